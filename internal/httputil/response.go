package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	svcerrors "github.com/R3E-Network/contactbook/internal/errors"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

const maxJSONBody = 1 << 20

// ErrorResponse is the JSON body written for every failed request.
type ErrorResponse struct {
	Detail  string                 `json:"detail"`
	Code    string                 `json:"code,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes a structured error body.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	resp := ErrorResponse{Detail: message, Code: code, Details: details}
	if r != nil {
		resp.TraceID = logger.GetTraceID(r.Context())
	}
	WriteJSON(w, status, resp)
}

// WriteError renders err, using its ServiceError metadata when present.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("Internal Server Error", err)
	}
	if se.HTTPStatus == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

// DecodeJSON decodes the request body into v, writing a 422 on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := decodeJSON(r.Body, v); err != nil {
		WriteError(w, r, svcerrors.Validation(err.Error()))
		return false
	}
	return true
}

func decodeJSON(body io.Reader, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
