package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Standard JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Protocol shape errors. None of them are retried.
var (
	// ErrUnexpectedBatch is returned when a single request is answered with an array
	ErrUnexpectedBatch = errors.New("unexpected batch response to a single request")

	// ErrMalformedResponse is returned when a response is not valid JSON-RPC
	ErrMalformedResponse = errors.New("malformed json-rpc response")

	// ErrUnknownResponseID is returned when a batch response carries an id that was not requested
	ErrUnknownResponseID = errors.New("response id does not match any request")

	// ErrDuplicateID is returned when a batch reuses a request id
	ErrDuplicateID = errors.New("duplicate request id in batch")
)

// ProtocolError is a JSON-RPC error object returned by the server.
type ProtocolError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewError creates a new JSON-RPC error
func NewError(code int, message string, data interface{}) *ProtocolError {
	return &ProtocolError{Code: code, Message: message, Data: data}
}

func (e *ProtocolError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("jsonrpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// UnexpectedResultsAmountError is returned when a batch chunk is answered
// with a different number of responses than requests.
type UnexpectedResultsAmountError struct {
	Expected int
	Actual   int
}

func (e *UnexpectedResultsAmountError) Error() string {
	return fmt.Sprintf("unexpected results amount: expected %d, got %d", e.Expected, e.Actual)
}

// TransportError is a network, timeout, or HTTP-level failure. It is retryable.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("rpc transport %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("rpc transport %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the round trip exceeded its deadline.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// IsTransportError reports whether err is a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocolError reports whether err is a JSON-RPC error object or a
// response shape mismatch.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	var ue *UnexpectedResultsAmountError
	switch {
	case errors.As(err, &pe), errors.As(err, &ue):
		return true
	case errors.Is(err, ErrUnexpectedBatch), errors.Is(err, ErrMalformedResponse),
		errors.Is(err, ErrUnknownResponseID), errors.Is(err, ErrDuplicateID):
		return true
	}
	return false
}
