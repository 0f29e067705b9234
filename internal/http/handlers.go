package http

import (
	"context"
	"net/http"
	"time"

	"expensedesk/internal/log"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady runs every readiness check with a short deadline and reports
// each result. Any failure makes the whole response 503.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.ready))
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", "check", name, log.FieldError, err)
			continue
		}
		checks[name] = "ok"
	}
	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	m := s.trace.GetMetrics()
	writeJSON(w, status, map[string]any{
		"status": state,
		"checks": checks,
		"requests": map[string]int64{
			"total":        m.TotalRequests,
			"serverErrors": m.ServerErrors,
		},
	})
}
