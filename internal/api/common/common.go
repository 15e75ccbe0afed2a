package common

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/stacklok/toolhive-imagegen-server/internal/orchestrator"
)

// MaxRequestBodyBytes bounds every JSON request body.
const MaxRequestBodyBytes = 1 << 20

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string            `json:"error"`
	Kind  orchestrator.Kind `json:"kind,omitempty"`
}

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// WriteErrorResponse writes a standardized error response
func WriteErrorResponse(w http.ResponseWriter, message string, kind orchestrator.Kind, statusCode int) {
	WriteJSONResponse(w, ErrorResponse{Error: message, Kind: kind}, statusCode)
}

// WriteServiceError maps an orchestrator error onto its HTTP status. The
// wrapped detail is logged and never written to the client.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var oerr *orchestrator.Error
	if !errors.As(err, &oerr) {
		oerr = &orchestrator.Error{Kind: orchestrator.KindInternal, Message: "internal error", Err: err}
	}

	code := StatusForKind(oerr.Kind)
	if code >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", oerr.Kind,
			"error", err)
	} else {
		slog.DebugContext(r.Context(), "Request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", oerr.Kind,
			"error", err)
	}
	WriteErrorResponse(w, oerr.Message, oerr.Kind, code)
}

// StatusForKind returns the HTTP status code of an error kind.
func StatusForKind(kind orchestrator.Kind) int {
	switch kind {
	case orchestrator.KindValidation:
		return http.StatusBadRequest
	case orchestrator.KindNotFound:
		return http.StatusNotFound
	case orchestrator.KindProviderRejected:
		return http.StatusUnprocessableEntity
	case orchestrator.KindProviderAuth:
		return http.StatusBadGateway
	case orchestrator.KindProviderUnreachable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSONBody decodes a bounded JSON body into v. An empty body leaves v
// untouched when allowEmpty is set.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	if r.Body == nil || r.Body == http.NoBody {
		if allowEmpty {
			return nil
		}
		return errors.New("invalid request body: body is empty")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}
