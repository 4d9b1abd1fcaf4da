package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Wire field names. Matching is exact and case-sensitive.
const (
	fieldTargetAppID = "targetAppID"
	fieldMessage     = "message"
	fieldDataPayload = "dataPayload"
	fieldTitle       = "title"
	fieldContent     = "content"
	fieldKey         = "key"
	fieldValue       = "value"
)

// DecodeError reports a malformed or schema-mismatched payload.
type DecodeError struct {
	// Field is the JSON path that failed ("" for the document itself).
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return "decode envelope: " + e.Err.Error()
	}
	return "decode envelope: " + e.Field + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

var (
	errMissing   = errors.New("missing field")
	errNotObject = errors.New("expected object")
	errNotString = errors.New("expected string")
	errTrailing  = errors.New("trailing data")
	errDuplicate = errors.New("duplicate field")
)

// Decode parses raw as an Envelope.
//
// Unknown fields are ignored. "message" and "dataPayload" may be omitted or
// null. "targetAppID" is required.
func Decode(raw string) (Envelope, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	var top map[string]json.RawMessage
	if err := dec.Decode(&top); err != nil {
		return Envelope{}, &DecodeError{Err: err}
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			err = errTrailing
		}
		return Envelope{}, &DecodeError{Err: err}
	}
	if top == nil {
		return Envelope{}, &DecodeError{Err: errNotObject}
	}
	if err := checkDuplicates([]byte(raw), "", fieldTargetAppID, fieldMessage, fieldDataPayload); err != nil {
		return Envelope{}, err
	}

	var env Envelope

	id, ok := top[fieldTargetAppID]
	if !ok {
		return Envelope{}, &DecodeError{Field: fieldTargetAppID, Err: errMissing}
	}
	s, err := decodeString(id)
	if err != nil {
		return Envelope{}, &DecodeError{Field: fieldTargetAppID, Err: err}
	}
	env.TargetAppID = s

	if raw, ok := top[fieldMessage]; ok && !isNull(raw) {
		msg, err := decodeMessage(raw)
		if err != nil {
			return Envelope{}, err
		}
		env.Message = msg
	}

	if raw, ok := top[fieldDataPayload]; ok && !isNull(raw) {
		entries, err := decodeEntries(raw)
		if err != nil {
			return Envelope{}, err
		}
		env.DataPayload = entries
	}

	return env, nil
}

func decodeMessage(raw json.RawMessage) (*Message, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, &DecodeError{Field: fieldMessage, Err: err}
	}
	if err := checkDuplicates(raw, fieldMessage, fieldTitle, fieldContent); err != nil {
		return nil, err
	}
	title, err := requiredString(obj, fieldTitle)
	if err != nil {
		return nil, &DecodeError{Field: fieldMessage + "." + fieldTitle, Err: err}
	}
	content, err := requiredString(obj, fieldContent)
	if err != nil {
		return nil, &DecodeError{Field: fieldMessage + "." + fieldContent, Err: err}
	}
	return &Message{Title: title, Content: content}, nil
}

func decodeEntries(raw json.RawMessage) ([]Entry, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &DecodeError{Field: fieldDataPayload, Err: err}
	}
	out := make([]Entry, 0, len(items))
	for i, it := range items {
		path := fmt.Sprintf("%s[%d]", fieldDataPayload, i)
		obj, err := decodeObject(it)
		if err != nil {
			return nil, &DecodeError{Field: path, Err: err}
		}
		if err := checkDuplicates(it, path, fieldKey, fieldValue); err != nil {
			return nil, err
		}
		k, err := requiredString(obj, fieldKey)
		if err != nil {
			return nil, &DecodeError{Field: path + "." + fieldKey, Err: err}
		}
		v, err := requiredString(obj, fieldValue)
		if err != nil {
			return nil, &DecodeError{Field: path + "." + fieldValue, Err: err}
		}
		out = append(out, Entry{Key: k, Value: v})
	}
	return out, nil
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if isNull(raw) {
		return nil, errNotObject
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errNotObject
	}
	return obj, nil
}

// checkDuplicates rejects an object that repeats one of fields. raw must
// already be known to be a valid JSON object. Repeated unknown keys are
// ignored like the unknown keys themselves.
func checkDuplicates(raw []byte, path string, fields ...string) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	seen := make(map[string]bool, len(fields))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, _ := tok.(string)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil
		}
		if !slices.Contains(fields, key) {
			continue
		}
		if seen[key] {
			if path != "" {
				key = path + "." + key
			}
			return &DecodeError{Field: key, Err: errDuplicate}
		}
		seen[key] = true
	}
	return nil
}

func requiredString(obj map[string]json.RawMessage, name string) (string, error) {
	raw, ok := obj[name]
	if !ok {
		return "", errMissing
	}
	return decodeString(raw)
}

func decodeString(raw json.RawMessage) (string, error) {
	var s string
	if isNull(raw) || json.Unmarshal(raw, &s) != nil {
		return "", errNotString
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

type wireEnvelope struct {
	TargetAppID string   `json:"targetAppID"`
	Message     *Message `json:"message,omitempty"`
	DataPayload *[]Entry `json:"dataPayload,omitempty"`
}

// Encode renders env in wire form. A nil DataPayload is omitted; an empty
// non-nil one is written as [].
func Encode(env Envelope) (string, error) {
	w := wireEnvelope{TargetAppID: env.TargetAppID, Message: env.Message}
	if env.DataPayload != nil {
		dp := env.DataPayload
		w.DataPayload = &dp
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(b), nil
}
