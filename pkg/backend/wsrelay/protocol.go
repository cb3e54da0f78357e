// Package wsrelay exposes a memory backend over websockets. Every socket is
// one backend connection: when the socket goes away, cleanly or not, the
// disconnect hooks it registered are fired on the server.
//
// Frames are CBOR encoded. Requests carry an id that the matching response
// echoes. Subscription snapshots are pushed as notifications keyed by the
// subscription id the client picked.
package wsrelay

import (
	"errors"
	"fmt"

	"github.com/surrealdb/canvassync/pkg/backend/memory"
	"github.com/surrealdb/canvassync/pkg/constants"
)

// Methods understood by the relay.
const (
	MethodWrite        = string(memory.MethodWrite)
	MethodUpdate       = string(memory.MethodUpdate)
	MethodRead         = string(memory.MethodRead)
	MethodSubscribe    = string(memory.MethodSubscribe)
	MethodUnsubscribe  = "unsubscribe"
	MethodOnDisconnect = string(memory.MethodOnDisconnect)
)

type request struct {
	ID      string         `cbor:"id"`
	Method  string         `cbor:"method"`
	Path    string         `cbor:"path,omitempty"`
	Value   any            `cbor:"value,omitempty"`
	Updates map[string]any `cbor:"updates,omitempty"`
	// Sub names the subscription of subscribe and unsubscribe requests.
	Sub string `cbor:"sub,omitempty"`
}

type response struct {
	ID           string        `cbor:"id,omitempty"`
	Error        *RPCError     `cbor:"error,omitempty"`
	Result       any           `cbor:"result,omitempty"`
	Notification *notification `cbor:"notification,omitempty"`
}

type notification struct {
	Sub   string `cbor:"sub"`
	Path  string `cbor:"path"`
	Value any    `cbor:"value,omitempty"`
	// Closed is set when the server ended the subscription.
	Closed bool `cbor:"closed,omitempty"`
}

// Error codes carried by RPCError.
const (
	CodeInternal     = -32000
	CodeBadRequest   = -32600
	CodeNoMethod     = -32601
	CodeInvalidPath  = -32602
	CodeClosed       = -32003
	CodeRejected     = -32004
	CodeRateLimited  = -32029
	CodeNotAvailable = -32005
)

// RPCError is an error reported by the relay.
type RPCError struct {
	Code    int    `cbor:"code"`
	Message string `cbor:"message,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Code, e.Message)
}

func (e *RPCError) Is(target error) bool {
	_, ok := target.(*RPCError)
	return ok
}

// Unwrap maps the code back to the sentinel the server side failed with.
func (e *RPCError) Unwrap() error {
	switch e.Code {
	case CodeInvalidPath:
		return constants.ErrInvalidPath
	case CodeClosed:
		return constants.ErrClosed
	case CodeRateLimited:
		return constants.ErrRateLimited
	case CodeNotAvailable:
		return constants.ErrMethodNotAvailable
	}
	return nil
}

func toRPCError(err error) *RPCError {
	code := CodeRejected
	switch {
	case errors.Is(err, constants.ErrInvalidPath):
		code = CodeInvalidPath
	case errors.Is(err, constants.ErrClosed):
		code = CodeClosed
	case errors.Is(err, constants.ErrRateLimited):
		code = CodeRateLimited
	case errors.Is(err, constants.ErrMethodNotAvailable):
		code = CodeNotAvailable
	}
	return &RPCError{Code: code, Message: err.Error()}
}
