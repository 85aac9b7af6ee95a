package frame

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// HELLO status codes.
const (
	HelloOK                  = 0
	HelloInvalidToken        = 40101
	HelloInvalidSessionToken = 40103
)

// HelloPayload is the "d" document of a HELLO frame.
type HelloPayload struct {
	Code      int    `json:"code"`
	SessionID string `json:"session_id"`
}

// ResumeAckPayload is the "d" document of a RESUME_ACK frame.
type ResumeAckPayload struct {
	SessionID string `json:"session_id"`
}

// ParseHello extracts the handshake result from a HELLO frame.
func ParseHello(f Frame) (HelloPayload, error) {
	var p HelloPayload
	if f.Kind != KindHello {
		return p, fmt.Errorf("%w: expected HELLO, got %s", ErrMalformed, f.Kind)
	}
	if len(f.Payload) == 0 {
		return p, fmt.Errorf("%w: HELLO without payload", ErrMalformed)
	}
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: HELLO payload: %v", ErrMalformed, err)
	}
	return p, nil
}

// ParseResumeAck extracts the session id from a RESUME_ACK frame.
func ParseResumeAck(f Frame) (ResumeAckPayload, error) {
	var p ResumeAckPayload
	if f.Kind != KindResumeAck {
		return p, fmt.Errorf("%w: expected RESUME_ACK, got %s", ErrMalformed, f.Kind)
	}
	if len(f.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: RESUME_ACK payload: %v", ErrMalformed, err)
	}
	return p, nil
}

// ResumeURL augments a gateway URL with the resume query parameters.
// Existing query parameters on base are preserved.
func ResumeURL(base string, sn int, sessionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("resume", "1")
	q.Set("sn", strconv.Itoa(sn))
	q.Set("sessionId", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
