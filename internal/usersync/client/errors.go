package client

import "fmt"

type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindServer      ErrorKind = "server"
	KindRateLimited ErrorKind = "rate_limited"
	KindClient      ErrorKind = "client"
	KindDecode      ErrorKind = "decode"
	KindCanceled    ErrorKind = "canceled"
)

// FetchError is the terminal error of FetchUpdates. Kind describes the last
// failed attempt; Attempts counts every HTTP attempt made.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch updates: %s error", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindServer, KindRateLimited:
		return true
	default:
		return false
	}
}
