package rpcclient

import "errors"

// Sentinel errors per spec §4.1 ("Errors: Offline, RequestError, Unauthorized,
// ParseError"). Wrapped with fmt.Errorf("%w: ...") at call sites so
// errors.Is still matches.
var (
	// ErrOffline means the connection to the daemon was refused.
	ErrOffline = errors.New("daemon offline")
	// ErrRequestError covers other socket/timeout failures.
	ErrRequestError = errors.New("rpc request error")
	// ErrUnauthorized means the daemon returned HTTP 401.
	ErrUnauthorized = errors.New("rpc unauthorized")
	// ErrParseError means the response body could not be parsed, even after
	// the NaN salvage pass.
	ErrParseError = errors.New("rpc parse error")
)
