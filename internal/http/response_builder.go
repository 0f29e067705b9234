// Package http is the JSON backend-for-frontend: it hosts the list view, the
// open expense forms and the dashboard for a thin browser page.
//
// This file builds JSON responses and maps domain errors to status codes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"expensedesk/internal/docnum"
	"expensedesk/internal/expenseapi"
	"expensedesk/internal/form"
	"expensedesk/internal/listview"
	"expensedesk/internal/log"
	"expensedesk/internal/middleware/trace"
	"expensedesk/internal/services"
)

// JSONResponseBuilder provides a fluent API for JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

// NewJSONResponse creates a builder with a 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body. A nil body writes no
// content.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the built response.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(b.body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	NewJSONResponse().Status(status).Body(v).Write(w)
}

type errorResponse struct {
	Message   string               `json:"message"`
	Errors    []fieldErrorResponse `json:"errors,omitempty"`
	Retryable bool                 `json:"retryable,omitempty"`
	Form      *formResponse        `json:"form,omitempty"`
	RequestID string               `json:"requestId,omitempty"`
}

type fieldErrorResponse struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func fieldErrors(errs form.ValidationErrors) []fieldErrorResponse {
	out := make([]fieldErrorResponse, 0, len(errs))
	for _, e := range errs {
		out = append(out, fieldErrorResponse{Field: e.Field, Message: e.Message})
	}
	return out
}

// requestError is a malformed request: bad JSON, ids or query values.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

// userMessage is the text shown to the user for err. Server rejections keep
// the server's message verbatim.
func userMessage(err error) string {
	var apiErr *expenseapi.APIError
	switch {
	case errors.Is(err, expenseapi.ErrUnreachable):
		return expenseapi.UnreachableMessage
	case errors.As(err, &apiErr):
		return apiErr.Message
	}
	return err.Error()
}

// errorStatus maps err to an HTTP status and response body.
func errorStatus(err error) (int, errorResponse) {
	var (
		verrs  form.ValidationErrors
		apiErr *expenseapi.APIError
		reqErr *requestError
	)
	switch {
	case errors.As(err, &verrs):
		return http.StatusUnprocessableEntity, errorResponse{Message: "Validation failed", Errors: fieldErrors(verrs)}
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, errorResponse{Message: reqErr.msg}
	case errors.Is(err, services.ErrFormNotFound):
		return http.StatusNotFound, errorResponse{Message: "Form not found"}
	case errors.Is(err, expenseapi.ErrUnreachable):
		return http.StatusBadGateway, errorResponse{Message: expenseapi.UnreachableMessage, Retryable: true}
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Status == http.StatusNotFound:
			return http.StatusNotFound, errorResponse{Message: apiErr.Message}
		case apiErr.Status == http.StatusConflict:
			return http.StatusConflict, errorResponse{Message: apiErr.Message}
		case apiErr.Status >= 500:
			return http.StatusBadGateway, errorResponse{Message: apiErr.Message, Retryable: true}
		}
		return http.StatusBadRequest, errorResponse{Message: apiErr.Message}
	case errors.Is(err, form.ErrSubmitInFlight),
		errors.Is(err, form.ErrNotEditable),
		errors.Is(err, form.ErrInvalidTransition):
		return http.StatusConflict, errorResponse{Message: err.Error()}
	case errors.Is(err, form.ErrUnknownField),
		errors.Is(err, form.ErrReadOnlyField),
		errors.Is(err, form.ErrItemOutOfRange),
		errors.Is(err, listview.ErrInvalidPageSize),
		errors.Is(err, docnum.ErrMalformedDocumentNumber):
		return http.StatusBadRequest, errorResponse{Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Message: "The server took too long to respond", Retryable: true}
	}
	return http.StatusInternalServerError, errorResponse{Message: "Internal server error"}
}

// writeError logs err and writes its mapped response. 5xx responses are
// logged at error level with the underlying cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)
	logger := log.FromContext(r.Context())
	if status >= 500 {
		logger.ErrorContext(r.Context(), "Request failed", log.FieldStatusCode, status, log.FieldError, err)
	} else {
		logger.DebugContext(r.Context(), "Request rejected", log.FieldStatusCode, status, log.FieldError, err)
	}
	body.RequestID = trace.GetRequestID(r.Context())
	writeJSON(w, status, body)
}

// writeErrorWithForm is writeError with the current form attached so the
// page can show field errors next to the values that caused them.
func writeErrorWithForm(w http.ResponseWriter, r *http.Request, err error, c *form.Controller) {
	if c == nil {
		writeError(w, r, err)
		return
	}
	status, body := errorStatus(err)
	if status >= 500 {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed", log.FieldFormID, c.ID(), log.FieldError, err)
	}
	fr := newFormResponse(c.View())
	body.Form = &fr
	body.RequestID = trace.GetRequestID(r.Context())
	writeJSON(w, status, body)
}
