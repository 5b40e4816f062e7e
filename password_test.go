package keyring

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordRecordRoundTrip(t *testing.T) {
	record := PasswordRecord{
		Username: "alice",
		Email:    "alice@example.com",
		Password: NewSecret("hunter2"),
		SecurityQuestions: []SecurityQuestion{
			{Question: "First pet?", Answer: "rex"},
		},
	}

	data, err := record.EncodeItem()
	require.NoError(t, err)

	var got PasswordRecord
	require.NoError(t, got.DecodeItem(data))

	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, "hunter2", got.Password.Reveal())
	assert.Equal(t, record.SecurityQuestions, got.SecurityQuestions)
	assert.Nil(t, got.Extra)
}

func TestPasswordRecordPreservesUnknownFields(t *testing.T) {
	payload := []byte(`{
		"password": "pw",
		"username": "bob",
		"totp_seed": "JBSWY3DP",
		"nested": {"a": [1, 2, 3]}
	}`)

	var record PasswordRecord
	require.NoError(t, record.DecodeItem(payload))
	assert.Equal(t, "bob", record.Username)
	require.Contains(t, record.Extra, "totp_seed")
	require.Contains(t, record.Extra, "nested")

	encoded, err := record.EncodeItem()
	require.NoError(t, err)

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(encoded, &out))
	assert.JSONEq(t, `"JBSWY3DP"`, string(out["totp_seed"]))
	assert.JSONEq(t, `{"a":[1,2,3]}`, string(out["nested"]))
	assert.JSONEq(t, `"pw"`, string(out["password"]))
}

func TestPasswordRecordOmitsEmptyFields(t *testing.T) {
	record := PasswordRecord{Password: NewSecret("pw")}

	encoded, err := record.EncodeItem()
	require.NoError(t, err)

	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(encoded, &out))
	assert.Contains(t, out, "password")
	assert.NotContains(t, out, "username")
	assert.NotContains(t, out, "email")
	assert.NotContains(t, out, "security_questions")
}

func TestPasswordRecordRequiresPassword(t *testing.T) {
	var record PasswordRecord
	err := record.DecodeItem([]byte(`{"username": "carol"}`))
	assert.Error(t, err)
}

func TestSecurityQuestionJSONKeys(t *testing.T) {
	data, err := json.Marshal(SecurityQuestion{Question: "Q?", Answer: "A."})
	require.NoError(t, err)
	assert.JSONEq(t, `{"q": "Q?", "a": "A."}`, string(data))
}

func TestPasswordRecordContentType(t *testing.T) {
	var record PasswordRecord
	assert.Equal(t, "application/prs.thanatos.keyring.password+json", record.ContentType())
}
