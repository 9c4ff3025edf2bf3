package jsonrpc

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/0xmhha/evm-block-extractor/internal/constants"
	"github.com/0xmhha/evm-block-extractor/pkg/storage"
	"go.uber.org/zap"
)

// Server serves stored chain data over JSON-RPC on HTTP POST
type Server struct {
	handler *Handler
	logger  *zap.Logger
}

// NewServer creates a JSON-RPC server reading from store
func NewServer(store storage.Reader, logger *zap.Logger) *Server {
	return &Server{
		handler: NewHandler(store, logger),
		logger:  logger,
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Warn("failed to read request body", zap.Error(err))
		s.write(w, NewErrorResponse(nil, NewError(ParseError, "request body too large or unreadable", nil)))
		return
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		s.handleBatch(w, r, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.write(w, NewErrorResponse(nil, NewError(ParseError, "parse error", err.Error())))
		return
	}
	s.write(w, s.call(r, &req))
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		s.write(w, NewErrorResponse(nil, NewError(ParseError, "parse error", err.Error())))
		return
	}
	if len(batch) == 0 {
		s.write(w, NewErrorResponse(nil, NewError(InvalidRequest, "empty batch", nil)))
		return
	}
	if len(batch) > constants.MaxServerBatchSize {
		s.logger.Warn("batch request too large",
			zap.Int("batch_size", len(batch)),
			zap.Int("max_batch_size", constants.MaxServerBatchSize),
		)
		s.write(w, NewErrorResponse(nil, NewError(InvalidRequest, "batch too large", constants.MaxServerBatchSize)))
		return
	}

	responses := make([]*Response, 0, len(batch))
	for _, raw := range batch {
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			responses = append(responses, NewErrorResponse(nil, NewError(InvalidRequest, "invalid request", err.Error())))
			continue
		}
		responses = append(responses, s.call(r, &req))
	}
	s.write(w, responses)
}

func (s *Server) call(r *http.Request, req *Request) *Response {
	if req.JSONRPC != Version {
		return NewErrorResponse(req.ID, NewError(InvalidRequest, "invalid jsonrpc version", nil))
	}
	if req.Method == "" {
		return NewErrorResponse(req.ID, NewError(InvalidRequest, "missing method", nil))
	}

	result, rpcErr := s.handler.HandleMethod(r.Context(), req.Method, req.Params)
	if rpcErr != nil {
		return NewErrorResponse(req.ID, rpcErr)
	}
	return NewResponse(req.ID, result)
}

// write encodes v with status 200; JSON-RPC errors travel in the body
func (s *Server) write(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}
