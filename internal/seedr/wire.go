package seedr

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// maxMessageLen bounds remote text copied into error messages.
const maxMessageLen = 200

// flexID decodes an identifier the API sends either as a JSON number or as
// a string.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		*f = flexID(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}

	*f = flexID(n.String())

	return nil
}

// flexInt decodes a size or counter sent either as a JSON number or as a
// numeric string. Unparseable strings decode as 0.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			*f = 0
			return nil //nolint:nilerr // sizes are informational
		}

		*f = flexInt(n)

		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}

	*f = flexInt(n)

	return nil
}

// flexBool decodes a result flag sent as a bool, a number, or a string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case bytes.Equal(data, []byte("true")):
		*f = true
	case bytes.Equal(data, []byte("false")), bytes.Equal(data, []byte("null")):
		*f = false
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}

		b, err := strconv.ParseBool(s)
		*f = flexBool(err == nil && b)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}

		*f = n != 0
	}

	return nil
}

// errorPayload is the union of the error encodings observed from the API:
// {"error":"code"}, {"error":{"code":..,"message":..}}, {"message":..}, and
// {"error_description":..}.
type errorPayload struct {
	Error            json.RawMessage `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Message          string          `json:"message"`
}

type nestedError struct {
	Code    json.RawMessage `json:"code"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// code returns the machine-readable error code, or "" if none.
func (p *errorPayload) code() string {
	raw := bytes.TrimSpace(p.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var nested nestedError
	if err := json.Unmarshal(raw, &nested); err == nil {
		if nested.Error != "" {
			return nested.Error
		}

		var code flexID
		if err := code.UnmarshalJSON(nested.Code); err == nil && code != "" {
			return string(code)
		}

		return nested.Message
	}

	return string(raw)
}

// description returns the human-readable part of the error, if any.
func (p *errorPayload) description() string {
	if p.ErrorDescription != "" {
		return p.ErrorDescription
	}

	if p.Message != "" {
		return p.Message
	}

	var nested nestedError
	if err := json.Unmarshal(p.Error, &nested); err == nil {
		return nested.Message
	}

	return ""
}

// decodeErrorPayload parses body best-effort. ok is false when the body is
// not a JSON object.
func decodeErrorPayload(body []byte) (errorPayload, bool) {
	var p errorPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return errorPayload{}, false
	}

	return p, true
}

// remoteMessage extracts the most useful text from an error response body.
func remoteMessage(body []byte) string {
	if p, ok := decodeErrorPayload(body); ok {
		code := p.code()
		desc := p.description()

		switch {
		case code != "" && desc != "" && code != desc:
			return truncate(code + ": " + desc)
		case code != "":
			return truncate(code)
		case desc != "":
			return truncate(desc)
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return "(empty response body)"
	}

	return truncate(text)
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}

	return s[:maxMessageLen] + "..."
}
