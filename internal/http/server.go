package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"expensedesk/internal/cache"
	"expensedesk/internal/listview"
	"expensedesk/internal/log"
	"expensedesk/internal/middleware/ratelimit"
	"expensedesk/internal/middleware/security"
	"expensedesk/internal/middleware/trace"
	"expensedesk/internal/services"
)

// ReadyCheck reports whether a dependency can serve requests.
type ReadyCheck func(ctx context.Context) error

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Expenses    *services.ExpenseService
	Forms       *services.FormService
	Logger      *log.Logger
	ReadyChecks map[string]ReadyCheck
	RateLimit   ratelimit.Config
}

// viewState is what the server remembers about one open list view between
// requests.
type viewState struct {
	State      listview.State
	TotalPages int
}

type Server struct {
	http.Server
	expenses *services.ExpenseService
	forms    *services.FormService
	logger   *log.Logger
	ready    map[string]ReadyCheck

	views    *cache.LRUCache[viewState]
	limiter  *ratelimit.Limiter
	clientIP *security.ClientIP
	trace    *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger.WithComponent(log.ComponentHTTP)
	s := &Server{
		expenses: deps.Expenses,
		forms:    deps.Forms,
		logger:   logger,
		ready:    deps.ReadyChecks,
		views:    cache.NewLRUCache[viewState](1000, 30*time.Minute),
		limiter:  ratelimit.NewLimiter(deps.RateLimit),
		clientIP: security.NewClientIP(),
	}
	s.trace = trace.NewMiddleware(logger, s.clientIP.Extract)
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.trace.Handler)
	r.Use(middleware.Recoverer)
	r.Use(security.Headers(security.DefaultHeadersConfig()))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Message: "Method not allowed"})
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Middleware(s.clientIP.Extract, ratelimit.Mutating, s.rateLimited))

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", s.handleListExpenses)
			r.Get("/{id}", s.handleGetExpense)
			r.Delete("/{id}", s.handleDeleteExpense)
		})

		r.Get("/dashboard", s.handleDashboard)

		r.Route("/forms", func(r chi.Router) {
			r.Get("/", s.handleListDrafts)
			r.Post("/", s.handleCreateForm)
			r.Post("/edit/{id}", s.handleEditForm)
			r.Route("/{formID}", func(r chi.Router) {
				r.Get("/", s.handleGetForm)
				r.Patch("/", s.handlePatchForm)
				r.Delete("/", s.handleCloseForm)
				r.Post("/items", s.handleAddItem)
				r.Delete("/items/{index}", s.handleRemoveItem)
				r.Post("/submit", s.handleSubmitForm)
			})
		})
	})
	return r
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.clientIP.Extract(r), log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Message: "Rate limit exceeded. Please try again later.", Retryable: true})
}

// Caches returns the server's caches for periodic cleanup.
func (s *Server) Caches() []cache.Cleaner {
	return []cache.Cleaner{s.views}
}

// Shutdown stops the rate limiter and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
