// Package contact owns the contact section of the site: the three form
// fields, the transient status banner and the dispatch of a submission as
// an encrypted Nostr direct message.
package contact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/seismic-bv/seismic/internal/errors"
)

// Form field names, as used by the HTML form and the JSON API.
const (
	FieldName    = "name"
	FieldEmail   = "email"
	FieldMessage = "message"
)

// Form holds what the visitor typed.
type Form struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Set assigns one field by name.
func (f *Form) Set(field, value string) error {
	switch field {
	case FieldName:
		f.Name = value
	case FieldEmail:
		f.Email = value
	case FieldMessage:
		f.Message = value
	default:
		return fmt.Errorf("unknown contact field %q", field)
	}
	return nil
}

// IsZero reports whether every field is empty.
func (f Form) IsZero() bool {
	return f == Form{}
}

// Validate requires the three fields to be non-empty after trimming
// whitespace. Email format is deliberately not checked.
func (f Form) Validate() error {
	vec := &errors.ValidationErrorCollection{}
	for _, field := range []struct{ name, value string }{
		{FieldName, f.Name},
		{FieldEmail, f.Email},
		{FieldMessage, f.Message},
	} {
		if strings.TrimSpace(field.value) == "" {
			vec.AddField(field.name, field.value, "must not be empty")
		}
	}
	if !vec.HasErrors() {
		return nil
	}
	return vec.ToError().WithComponent("contact")
}

// Normalize returns the form with every field in Unicode NFC.
func (f Form) Normalize() Form {
	return Form{
		Name:    norm.NFC.String(f.Name),
		Email:   norm.NFC.String(f.Email),
		Message: norm.NFC.String(f.Message),
	}
}

// Payload builds the plaintext sent to the operator.
func (f Form) Payload(now time.Time) Payload {
	return Payload{
		FromName:  f.Name,
		FromEmail: f.Email,
		Message:   f.Message,
		Timestamp: now.UnixMilli(),
	}
}

// Payload is the JSON document encrypted into the direct message.
// Timestamp is in Unix milliseconds.
type Payload struct {
	FromName  string `json:"fromName"`
	FromEmail string `json:"fromEmail"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Marshal encodes the payload without HTML escaping.
func (p Payload) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Time returns the payload timestamp.
func (p Payload) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}
