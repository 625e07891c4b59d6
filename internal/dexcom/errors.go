package dexcom

import "fmt"

// HardError indicates the upstream refused the account itself: bad
// credentials, a disabled account, or too many authentication attempts.
// Callers should stop polling for this account.
type HardError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *HardError) Error() string {
	return fmt.Sprintf("dexcom refused account: %s (%s)", e.Code, e.Message)
}

// DecodingError indicates the upstream returned a body we could not decode.
// It keeps the status code and raw body for logs; a 429 status signals the
// caller to back off for a cooldown period.
type DecodingError struct {
	StatusCode int
	Body       []byte
}

// Error implements the error interface.
func (e *DecodingError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("dexcom response not decodable: status %d, body: %s", e.StatusCode, body)
}

// RateLimited reports whether the upstream throttled us.
func (e *DecodingError) RateLimited() bool {
	return e.StatusCode == 429
}

// sessionError is an internal marker for an expired or unknown session id.
// The client re-logs-in and retries once before surfacing anything.
type sessionError struct {
	code string
}

func (e *sessionError) Error() string {
	return "dexcom session invalid: " + e.code
}
