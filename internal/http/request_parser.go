package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON object from the request body into v.
// Unknown fields and trailing data are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return badRequest("Request body is empty")
		case errors.As(err, &maxErr):
			return badRequest("Request body is too large")
		}
		return badRequest(fmt.Sprintf("Invalid JSON body: %v", err))
	}
	if dec.More() {
		return badRequest("Request body must contain a single JSON object")
	}
	return nil
}

// pathID parses a positive integer path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest(fmt.Sprintf("Invalid %s %q", name, raw))
	}
	return id, nil
}

// pathIndex parses a non-negative integer path parameter.
func pathIndex(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest(fmt.Sprintf("Invalid %s %q", name, raw))
	}
	return n, nil
}

// queryInt returns the integer value of key and whether it was present.
func queryInt(q url.Values, key string) (int, bool, error) {
	if !q.Has(key) {
		return 0, false, nil
	}
	raw := strings.TrimSpace(q.Get(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, badRequest(fmt.Sprintf("Invalid %s %q: must be a whole number", key, raw))
	}
	return n, true, nil
}

// fieldValue turns a JSON field value into the text form the form controller
// takes: strings as-is, null as empty, numbers and booleans as written.
func fieldValue(raw json.RawMessage) (string, error) {
	s := strings.TrimSpace(string(raw))
	switch {
	case s == "" || s == "null":
		return "", nil
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", badRequest(fmt.Sprintf("Invalid field value: %v", err))
		}
		return sanitizeInput(v), nil
	case strings.HasPrefix(s, "{"), strings.HasPrefix(s, "["):
		return "", badRequest("Field values must be strings, numbers or booleans")
	}
	return s, nil
}

// sanitizeInput drops control characters other than tab and newlines.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}
