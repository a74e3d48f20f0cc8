// Package httputil provides common HTTP utilities for the tool surface.
package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	goverrors "github.com/agentmesh/governance_layer/infrastructure/errors"
	"github.com/agentmesh/governance_layer/infrastructure/logging"
)

// Envelope is the common wire shape for tool responses.
type Envelope struct {
	Success   bool                `json:"success"`
	Result    interface{}         `json:"result,omitempty"`
	Error     string              `json:"error,omitempty"`
	ErrorCode string              `json:"error_code,omitempty"`
	Details   interface{}         `json:"details,omitempty"`
	Recovery  *goverrors.Recovery `json:"recovery,omitempty"`
	TraceID   string              `json:"trace_id,omitempty"`
}

var defaultLogger = logging.NewFromEnv("httputil")

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		defaultLogger.WithError(err).Warn("write json response")
	}
}

// WriteResult writes a success envelope.
func WriteResult(w http.ResponseWriter, r *http.Request, result interface{}) {
	WriteJSON(w, http.StatusOK, Envelope{
		Success: true,
		Result:  result,
		TraceID: traceID(w, r),
	})
}

// WriteToolError writes the sanitized error envelope for err. The wrapped
// cause, if any, never reaches the wire.
func WriteToolError(w http.ResponseWriter, r *http.Request, err error) {
	status := goverrors.GetHTTPStatus(err)
	env := Envelope{
		Success: false,
		Error:   goverrors.Sanitize(err),
		TraceID: traceID(w, r),
	}
	if se := goverrors.GetServiceError(err); se != nil {
		env.ErrorCode = string(se.Code)
		env.Recovery = se.Recovery
		if len(se.Details) > 0 {
			env.Details = se.Details
		}
	} else {
		env.ErrorCode = fmt.Sprintf("HTTP_%d", status)
	}
	WriteJSON(w, status, env)
}

func traceID(w http.ResponseWriter, r *http.Request) string {
	if r != nil {
		if id := logging.GetTraceID(r.Context()); id != "" {
			return id
		}
		if id := r.Header.Get("X-Trace-ID"); id != "" {
			return id
		}
	}
	return w.Header().Get("X-Trace-ID")
}

// DecodeJSON decodes the request body into v, enforcing a byte limit. On
// failure it writes a validation error envelope and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v interface{}) bool {
	if limit <= 0 {
		limit = 1 << 20
	}
	body := http.MaxBytesReader(w, r.Body, limit)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		WriteToolError(w, r, goverrors.InvalidInput("body", "malformed JSON"))
		return false
	}
	return true
}

// ReadBody reads the full request body up to limit bytes.
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = 1 << 20
	}
	limited := io.LimitReader(r.Body, limit+1)
	b, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("body exceeds limit of %d bytes", limit)
	}
	return b, nil
}
