package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoggerWritesJSONLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit", "keyring.log")

	logger, err := NewFileLogger(&Config{
		Enabled: true,
		Type:    FileAuditType,
		Options: map[string]interface{}{"file_path": logPath},
	})
	require.NoError(t, err)

	require.NoError(t, logger.Log("set_item", true, map[string]interface{}{"item": "example.com"}))
	require.NoError(t, logger.Log("load_keyring", false, map[string]interface{}{"error": "wrong passphrase"}))
	require.NoError(t, logger.Close())

	file, err := os.Open(logPath)
	require.NoError(t, err)
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, 2)
	assert.Equal(t, "set_item", events[0].Action)
	assert.True(t, events[0].Success)
	assert.Equal(t, "example.com", events[0].Metadata["item"])
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())

	assert.Equal(t, "load_keyring", events[1].Action)
	assert.False(t, events[1].Success)
}

func TestFileLoggerRequiresPath(t *testing.T) {
	_, err := NewFileLogger(&Config{Enabled: true, Type: FileAuditType})
	assert.Error(t, err)
}

func TestFileLoggerRejectsWritesAfterClose(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "keyring.log")
	logger, err := NewFileLogger(&Config{
		Enabled: true,
		Type:    FileAuditType,
		Options: map[string]interface{}{"file_path": logPath},
	})
	require.NoError(t, err)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close(), "closing twice is fine")

	assert.Error(t, logger.Log("set_item", true, nil))
}

func TestNewLoggerDispatch(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.IsType(t, &NoOpLogger{}, logger)

	logger, err = NewLogger(&Config{Enabled: false, Type: FileAuditType})
	require.NoError(t, err)
	assert.IsType(t, &NoOpLogger{}, logger)

	_, err = NewLogger(&Config{Enabled: true, Type: ConfigType("bogus")})
	assert.Error(t, err)
}
