// Package stratumserver implements the Stratum v1 TCP/TLS listener, spec
// §4.4: per-client framing and flood protection, the
// Connected→Subscribed→Authorized→Mining state machine, broadcast,
// ban decisions, difficulty sending, and the extranonce generator.
// Grounded on the teacher's internal/stratum/server.go and message.go.
package stratumserver

import (
	"encoding/json"
	"fmt"
)

// Request is an inbound client message, spec §6.1. ID may be a JSON number
// or null and is kept as raw JSON so it is echoed back unchanged; Params is
// decoded into generic JSON values (numbers become float64).
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []interface{}   `json:"params"`
}

// Response answers one Request by ID.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result"`
	Error  interface{}     `json:"error"`
}

// Notification is a server-initiated message; id is always null on the wire.
type Notification struct {
	ID     interface{}   `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// Protocol error codes, spec §6.1.
const (
	ErrCodeMalformed      = 20
	ErrCodeJobNotFound    = 21
	ErrCodeDuplicate      = 22
	ErrCodeLowDifficulty  = 23
	ErrCodeUnauthorized   = 24
	ErrCodeNotSubscribed  = 25
)

// ParseRequest parses one line of client input into a Request.
func ParseRequest(line string) (*Request, error) {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return nil, fmt.Errorf("stratumserver: parse error: %w", err)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("stratumserver: method field is required")
	}
	return &req, nil
}

func (r *Response) marshal() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (n *Notification) marshal() (string, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func newResult(id json.RawMessage, result interface{}) *Response {
	return &Response{ID: id, Result: result, Error: nil}
}

func newError(id json.RawMessage, code int, message string) *Response {
	return &Response{ID: id, Result: nil, Error: []interface{}{code, message, nil}}
}

func newSubscribeResult(subscriptionID, extraNonce1 string, extraNonce2Size int) []interface{} {
	return []interface{}{
		[]interface{}{
			[]interface{}{"mining.set_difficulty", subscriptionID},
			[]interface{}{"mining.notify", subscriptionID},
		},
		extraNonce1,
		extraNonce2Size,
	}
}

func newNotifyNotification(params []interface{}) *Notification {
	return &Notification{ID: nil, Method: "mining.notify", Params: params}
}

func newSetTargetNotification(targetHex string) *Notification {
	return &Notification{ID: nil, Method: "mining.set_target", Params: []interface{}{targetHex}}
}

func newSetExtranonceNotification(extraNonce1 string, extraNonce2Size int) *Notification {
	return &Notification{ID: nil, Method: "mining.set_extranonce", Params: []interface{}{extraNonce1, extraNonce2Size}}
}
