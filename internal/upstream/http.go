// ABOUTME: Decodes error bodies returned by model APIs and edge functions
// ABOUTME: Understands {"error":"..."} and {"error":{"message":"..."}} shapes

package upstream

import (
	"encoding/json"
	"fmt"
)

// rawBodyLimit is how much of a non-JSON error body is echoed back
const rawBodyLimit = 100

// FromHTTP turns a non-2xx response into an *Error. A JSON body carrying an
// error message wins; JSON without one yields fallback; anything else is
// reported as "Error <status>: <first 100 characters>".
func FromHTTP(status int, body []byte, fallback string) *Error {
	var parsed struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		msg := fmt.Sprintf("Error %d: %s", status, Truncate(string(body), rawBodyLimit))
		e := New(KindGeneric, msg, nil)
		e.Status = status
		return e
	}

	msg := fallback
	if m := errorMessage(parsed.Error); m != "" {
		msg = m
	}
	e := New(KindGeneric, msg, nil)
	e.Status = status
	return e
}

func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message
	}
	return ""
}
