package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the JSON-RPC protocol version sent and accepted
const Version = "2.0"

// Request represents a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`
}

// Response represents a JSON-RPC 2.0 response. Exactly one of Result and
// Error is set; a null result is carried as the literal "null".
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ProtocolError  `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// NewResponse creates a successful response; a nil result encodes as null
func NewResponse(id ID, result interface{}) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &Response{JSONRPC: Version, Result: raw, ID: id}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(id ID, err *ProtocolError) *Response {
	return &Response{JSONRPC: Version, Error: err, ID: id}
}

type idKind uint8

const (
	idNull idKind = iota
	idNumber
	idString
)

// ID is a JSON-RPC request id: a number, a string, or null.
type ID struct {
	kind idKind
	text string
}

// NumberID returns a numeric id
func NumberID(n uint64) ID {
	return ID{kind: idNumber, text: strconv.FormatUint(n, 10)}
}

// StringID returns a string id
func StringID(s string) ID {
	return ID{kind: idString, text: s}
}

// IsNull reports whether the id is absent or null
func (id ID) IsNull() bool {
	return id.kind == idNull
}

// key identifies the id for response correlation; 1 and "1" differ.
func (id ID) key() string {
	return strconv.Itoa(int(id.kind)) + ":" + id.text
}

func (id ID) String() string {
	switch id.kind {
	case idNumber:
		return id.text
	case idString:
		return strconv.Quote(id.text)
	default:
		return "null"
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idNumber:
		return []byte(id.text), nil
	case idString:
		return json.Marshal(id.text)
	default:
		return []byte("null"), nil
	}
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*id = ID{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid id %s: %w", data, err)
		}
		*id = ID{kind: idNumber, text: n.String()}
	}
	return nil
}

// isBatch reports whether a JSON payload is an array
func isBatch(payload []byte) bool {
	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}
