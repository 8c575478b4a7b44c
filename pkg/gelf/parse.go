package gelf

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ParseError reports a payload that could not be decoded as a GELF record.
type ParseError struct {
	Offset int64 // byte offset where decoding failed, 0 when unknown
	Err    error
}

func (e *ParseError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("gelf: parse failed at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("gelf: parse failed: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Normalize interprets payload as UTF-8 text, replacing invalid byte
// sequences with U+FFFD.
func Normalize(payload []byte) string {
	return strings.ToValidUTF8(string(payload), string(utf8.RuneError))
}

// Parse decodes text as a single JSON object in GELF shape. A record is never
// rejected for missing fields, only for structurally invalid input: not an
// object, truncated or bad syntax, or a named field of the wrong type.
// Semantic checks (level ranges and the like) are the caller's concern.
func Parse(text string) (*Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, &ParseError{Offset: errOffset(err), Err: err}
	}
	return &m, nil
}

func errOffset(err error) int64 {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return syntaxErr.Offset
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return typeErr.Offset
	}
	return 0
}
