package keyring

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"github.com/awnumar/memguard"
	"gopkg.in/yaml.v3"
)

// Redacted is the only rendering of a Secret that fmt and friends will ever
// produce.
const Redacted = "[REDACTED]"

// Secret holds a sensitive string value and refuses to render it through any
// diagnostic path. It serializes transparently as a plain string, so a struct
// field of type Secret round-trips through JSON and YAML the way a string
// would, while `fmt.Sprintf("%v", s)`, `%s` and `%#v` all yield Redacted.
//
// Equality is value equality; use Equal rather than ==.
type Secret struct {
	value []byte
}

// NewSecret wraps a plaintext value.
func NewSecret(value string) Secret {
	return Secret{value: []byte(value)}
}

// Reveal returns the underlying plaintext. Callers should keep the returned
// string as short-lived as they can.
func (s Secret) Reveal() string {
	return string(s.value)
}

// Equal compares two secrets in constant time.
func (s Secret) Equal(other Secret) bool {
	return subtle.ConstantTimeCompare(s.value, other.value) == 1
}

// Wipe overwrites the secret's backing storage and leaves the Secret empty.
// This is best effort: copies made by Reveal or by serialization are out of
// reach.
func (s *Secret) Wipe() {
	memguard.WipeBytes(s.value)
	s.value = nil
}

func (s Secret) String() string {
	return Redacted
}

// GoString keeps %#v from leaking the value through the default struct
// formatter.
func (s Secret) GoString() string {
	return "keyring.Secret(" + Redacted + ")"
}

// Format implements fmt.Formatter so that every verb, including %x and %q,
// renders the redaction marker.
func (s Secret) Format(f fmt.State, verb rune) {
	fmt.Fprint(f, Redacted)
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s.value))
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	s.value = []byte(value)
	return nil
}

func (s Secret) MarshalYAML() (interface{}, error) {
	return string(s.value), nil
}

func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	var value string
	if err := node.Decode(&value); err != nil {
		return err
	}
	s.value = []byte(value)
	return nil
}
