package keyring

import (
	"encoding/json"
	"errors"
)

// PasswordContentType is the content type tag of password record payloads.
const PasswordContentType = "application/prs.thanatos.keyring.password+json"

// SecurityQuestion is one question/answer pair on a password record.
type SecurityQuestion struct {
	Question string `json:"q"`
	Answer   string `json:"a"`
}

// PasswordRecord is the typed item kind registered by the core: a credential
// with an optional username and email, the password itself, and optional
// security questions.
//
// The JSON payload is open-ended: fields this version does not know about are
// kept verbatim in Extra and written back on encode, so a newer tool's record
// survives a round trip through an older one.
type PasswordRecord struct {
	Username          string // empty means absent
	Email             string // empty means absent
	Password          Secret
	SecurityQuestions []SecurityQuestion // omitted entirely when empty
	Extra             map[string]json.RawMessage
}

func (p *PasswordRecord) ContentType() string {
	return PasswordContentType
}

func (p *PasswordRecord) EncodeItem() ([]byte, error) {
	return json.Marshal(p)
}

func (p *PasswordRecord) DecodeItem(data []byte) error {
	return json.Unmarshal(data, p)
}

func (p PasswordRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p.Extra)+4)
	for k, v := range p.Extra {
		out[k] = v
	}

	// Known fields win over a colliding Extra entry.
	var err error
	if p.Username != "" {
		if out["username"], err = json.Marshal(p.Username); err != nil {
			return nil, err
		}
	}
	if p.Email != "" {
		if out["email"], err = json.Marshal(p.Email); err != nil {
			return nil, err
		}
	}
	if out["password"], err = json.Marshal(p.Password); err != nil {
		return nil, err
	}
	if len(p.SecurityQuestions) > 0 {
		if out["security_questions"], err = json.Marshal(p.SecurityQuestions); err != nil {
			return nil, err
		}
	}

	return json.Marshal(out)
}

func (p *PasswordRecord) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*p = PasswordRecord{}

	raw, ok := fields["password"]
	if !ok {
		return errors.New("password record has no password field")
	}
	if err := json.Unmarshal(raw, &p.Password); err != nil {
		return err
	}
	delete(fields, "password")

	if raw, ok = fields["username"]; ok {
		if err := json.Unmarshal(raw, &p.Username); err != nil {
			return err
		}
		delete(fields, "username")
	}
	if raw, ok = fields["email"]; ok {
		if err := json.Unmarshal(raw, &p.Email); err != nil {
			return err
		}
		delete(fields, "email")
	}
	if raw, ok = fields["security_questions"]; ok {
		if err := json.Unmarshal(raw, &p.SecurityQuestions); err != nil {
			return err
		}
		delete(fields, "security_questions")
	}

	if len(fields) > 0 {
		p.Extra = fields
	}
	return nil
}
