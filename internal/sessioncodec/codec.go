// Package sessioncodec turns login state into an opaque string the client
// carries between the code request and the verification call.
//
// The encoding is base64 over JSON. It is obfuscation, not encryption: anyone
// holding a blob can read it, and nothing stops a client from forging one.
package sessioncodec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Version is the envelope schema written by Encode.
const Version = 1

// maxNesting bounds how many legacy wrapper layers Decode will unwrap.
const maxNesting = 3

// nestedKey is the wrapper field older clients used to carry a re-encoded blob.
// "session" is not one: old pending states stored the transport seed there.
const nestedKey = "sessionInfo"

// DecodeError reports a blob that is not any accepted shape.
// Callers surface it as a client error, never a server error.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid session information: %s: %v", e.Reason, e.Err)
	}
	return "invalid session information: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is (or wraps) a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

type envelope struct {
	V    int             `json:"v"`
	Data json.RawMessage `json:"data"`
}

// Encode serialises v inside a versioned envelope and base64-wraps it.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal session state: %w", err)
	}
	raw, err := json.Marshal(envelope{V: Version, Data: data})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode reverses Encode into v. It also accepts a bare JSON object and a
// wrapper object carrying another blob under the legacy "sessionInfo" key.
func Decode(blob string, v any) error {
	payload, err := unwrap(blob, 0)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &DecodeError{Reason: "unexpected payload", Err: err}
	}
	return nil
}

func unwrap(blob string, depth int) (json.RawMessage, error) {
	if depth > maxNesting {
		return nil, &DecodeError{Reason: "too many nested layers"}
	}

	raw, err := decodeBase64(strings.TrimSpace(blob))
	if err != nil {
		return nil, &DecodeError{Reason: "not base64", Err: err}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &DecodeError{Reason: "not a JSON object", Err: err}
	}

	// versioned envelope
	if v, ok := fields["v"]; ok {
		if data, ok := fields["data"]; ok {
			var env envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return nil, &DecodeError{Reason: "malformed envelope", Err: err}
			}
			if env.V > Version {
				return nil, &DecodeError{Reason: fmt.Sprintf("unsupported version %s", v)}
			}
			if !isObject(data) {
				return nil, &DecodeError{Reason: "envelope data is not an object"}
			}
			return data, nil
		}
	}

	// legacy wrapper around another blob
	if nested, ok := fields[nestedKey]; ok {
		var inner string
		if err := json.Unmarshal(nested, &inner); err == nil && inner != "" {
			if payload, err := unwrap(inner, depth+1); err == nil {
				return payload, nil
			}
		}
	}

	return raw, nil
}

func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty blob")
	}
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		out, err := enc.DecodeString(s)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
