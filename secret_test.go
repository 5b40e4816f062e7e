package keyring

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSecretNeverRenders(t *testing.T) {
	s := NewSecret("hunter2")

	for _, verb := range []string{"%v", "%+v", "%#v", "%s", "%q", "%x"} {
		rendered := fmt.Sprintf(verb, s)
		assert.NotContains(t, rendered, "hunter2", "verb %s leaked the value", verb)
		assert.Contains(t, rendered, Redacted, "verb %s should show the marker", verb)
	}

	// Also when buried in a struct.
	wrapped := struct{ Password Secret }{Password: s}
	rendered := fmt.Sprintf("%+v", wrapped)
	assert.NotContains(t, rendered, "hunter2")
}

func TestSecretJSONTransparent(t *testing.T) {
	data, err := json.Marshal(NewSecret("hunter2"))
	require.NoError(t, err)
	assert.Equal(t, `"hunter2"`, string(data))

	var s Secret
	require.NoError(t, json.Unmarshal([]byte(`"hunter2"`), &s))
	assert.Equal(t, "hunter2", s.Reveal())
}

func TestSecretYAMLTransparent(t *testing.T) {
	data, err := yaml.Marshal(NewSecret("hunter2"))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", strings.TrimSpace(string(data)))

	var s Secret
	require.NoError(t, yaml.Unmarshal([]byte("hunter2"), &s))
	assert.Equal(t, "hunter2", s.Reveal())
}

func TestSecretEqual(t *testing.T) {
	assert.True(t, NewSecret("same").Equal(NewSecret("same")))
	assert.False(t, NewSecret("same").Equal(NewSecret("other")))
	assert.True(t, NewSecret("").Equal(Secret{}))
}

func TestSecretWipe(t *testing.T) {
	s := NewSecret("short lived")
	s.Wipe()
	assert.Equal(t, "", s.Reveal())
}
