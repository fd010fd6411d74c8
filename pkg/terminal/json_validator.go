package terminal

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"github.com/antibyte/retroforth/pkg/shared"
)

// JSONValidator prüft eingehende Client-Nachrichten
type JSONValidator struct {
	MaxPayload   int // Bytes pro Nachricht
	MaxStringLen int // Zeichen pro content
	MaxKeyLen    int
}

// Sicherheitskonstanten für JSON-Validierung
const (
	MaxJSONPayload   = 64 * 1024
	MaxJSONStringLen = 4096
	MaxJSONKeyLen    = 32
)

var (
	ErrJSONTooLarge      = errors.New("JSON payload too large")
	ErrJSONStringTooLong = errors.New("JSON string too long")
	ErrUnknownType       = errors.New("unknown message type")
)

// NewJSONValidator erstellt einen neuen JSON-Validator
func NewJSONValidator(maxStringLen int) *JSONValidator {
	if maxStringLen <= 0 {
		maxStringLen = MaxJSONStringLen
	}
	return &JSONValidator{
		MaxPayload:   MaxJSONPayload,
		MaxStringLen: maxStringLen,
		MaxKeyLen:    MaxJSONKeyLen,
	}
}

// ValidateRequest dekodiert data strikt als shared.Request und bereinigt den
// Inhalt zu einer einzelnen Quellzeile.
func (v *JSONValidator) ValidateRequest(data []byte) (shared.Request, error) {
	var req shared.Request
	if len(data) > v.MaxPayload {
		return req, errors.Wrapf(ErrJSONTooLarge, "%d bytes", len(data))
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return req, errors.Wrap(err, "invalid JSON")
	}

	if !req.Type.Known() {
		return req, errors.Wrapf(ErrUnknownType, "%d", req.Type)
	}
	if len(req.Content) > v.MaxStringLen {
		return req, errors.Wrapf(ErrJSONStringTooLong, "content has %d bytes", len(req.Content))
	}
	if len(req.Key) > v.MaxKeyLen {
		return req, errors.Wrapf(ErrJSONStringTooLong, "key has %d bytes", len(req.Key))
	}

	req.Content = sanitizeLine(req.Content)
	return req, nil
}

// sanitizeLine ersetzt Tabs und Zeilenumbrüche durch Leerzeichen und
// entfernt übrige Steuerzeichen.
func sanitizeLine(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}
