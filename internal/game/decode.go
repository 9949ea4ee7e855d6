package game

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DecodeError reports a document that could not be turned into a Record.
type DecodeError struct {
	// ID is the document identifier, possibly empty.
	ID string

	// Field names the offending field, empty when the problem is the ID.
	Field string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode document %q: field %q: %s", e.ID, e.Field, e.Message)
	}
	return fmt.Sprintf("decode document %q: %s", e.ID, e.Message)
}

// IsDecodeError returns true if err wraps a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Decode builds a Record from a remote document.
//
// Missing display fields decode to "". A boolean "read" field wins over the
// legacy "status" string; with neither present the record is new.
func Decode(id string, fields map[string]any) (Record, error) {
	if strings.TrimSpace(id) == "" {
		return Record{}, &DecodeError{ID: id, Message: "empty document id"}
	}

	rec := Record{ID: id}
	targets := []struct {
		name string
		dst  *string
	}{
		{FieldTitle, &rec.Title},
		{FieldDescription, &rec.Description},
		{FieldImageURL, &rec.ImageURL},
		{FieldDeveloper, &rec.Developer},
		{FieldEditor, &rec.Editor},
	}
	for _, t := range targets {
		s, err := stringField(fields, t.name)
		if err != nil {
			return Record{}, &DecodeError{ID: id, Field: t.name, Message: err.Error()}
		}
		*t.dst = s
	}

	read, err := decodeRead(fields)
	if err != nil {
		return Record{}, &DecodeError{ID: id, Field: err.field, Message: err.msg}
	}
	rec.Read = read

	return rec, nil
}

// ParseStatus maps a legacy status string onto the read flag.
// Matching ignores case and surrounding whitespace.
func ParseStatus(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case strings.ToLower(StatusRead):
		return true, nil
	case strings.ToLower(StatusNew):
		return false, nil
	default:
		return false, fmt.Errorf("unknown status %q (want %q or %q)", s, StatusNew, StatusRead)
	}
}

type fieldErr struct {
	field string
	msg   string
}

func decodeRead(fields map[string]any) (bool, *fieldErr) {
	if raw, ok := fields[FieldRead]; ok && raw != nil {
		b, ok := raw.(bool)
		if !ok {
			return false, &fieldErr{field: FieldRead, msg: fmt.Sprintf("expected bool, got %T", raw)}
		}
		return b, nil
	}

	raw, ok := fields[FieldLegacyStatus]
	if !ok || raw == nil {
		return false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return false, &fieldErr{field: FieldLegacyStatus, msg: fmt.Sprintf("expected string, got %T", raw)}
	}
	read, err := ParseStatus(s)
	if err != nil {
		return false, &fieldErr{field: FieldLegacyStatus, msg: err.Error()}
	}
	return read, nil
}

func stringField(fields map[string]any, name string) (string, error) {
	raw, ok := fields[name]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", raw)
	}
	// NFC at the decode boundary so lookups and display agree on one form
	return norm.NFC.String(s), nil
}
