package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tgwatch/tg-session-watch/internal/biz/domain"
	"github.com/tgwatch/tg-session-watch/internal/biz/usecase"
	"github.com/tgwatch/tg-session-watch/internal/pkg/logger"
)

// Server provides the admin HTTP API used by watch-mcp
type Server struct {
	monitor *usecase.MonitorUsecase
	acq     *usecase.AcquisitionUsecase

	addr    string
	origins []string
	server  *http.Server
}

// Monitor is an active subscription
type Monitor struct {
	Phone       string    `json:"phone"`
	AccountID   int64     `json:"account_id"`
	Username    string    `json:"username,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Filters     int       `json:"filters"`
	AttachedAt  time.Time `json:"attached_at"`
}

// Session is a saved credential; the blob is never exposed
type Session struct {
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter is a stored filter
type Filter struct {
	ID        int64     `json:"id"`
	Phone     string    `json:"phone"`
	Kind      string    `json:"kind"`
	Value     string    `json:"value,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AddFilterRequest is the body of POST /filters
type AddFilterRequest struct {
	Phone string `json:"phone"`
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// NewServer creates a new API server listening on addr
func NewServer(monitor *usecase.MonitorUsecase, acq *usecase.AcquisitionUsecase, addr string) *Server {
	return &Server{monitor: monitor, acq: acq, addr: addr}
}

// AllowOrigins enables CORS for the given browser origins
func (s *Server) AllowOrigins(origins ...string) *Server {
	s.origins = origins
	return s
}

// Handler returns the routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api/owners/{owner}", func(r chi.Router) {
		r.Get("/monitors", s.handleListMonitors)
		r.Delete("/monitors/{phone}", s.handleStopMonitor)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/filters", s.handleListFilters)
		r.Post("/filters", s.handleAddFilter)
	})
	return r
}

// Run serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Named("api").Info().Str("addr", s.addr).Msg("http listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	subs := s.monitor.ListActive(owner)
	result := make([]Monitor, len(subs))
	for i, sub := range subs {
		result[i] = Monitor{
			Phone:       sub.Phone,
			AccountID:   sub.Account.ID,
			Username:    sub.Account.Username,
			DisplayName: sub.Account.DisplayName,
			Filters:     sub.Filters,
			AttachedAt:  sub.AttachedAt,
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"monitors": result})
}

func (s *Server) handleStopMonitor(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	phone := chi.URLParam(r, "phone")
	if !s.monitor.Detach(r.Context(), owner, phone) {
		s.writeError(w, r, domain.NewError(domain.KindNotAttached, phone+" is not being monitored"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	creds, err := s.acq.ListCredentials(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result := make([]Session, len(creds))
	for i, c := range creds {
		result[i] = Session{Phone: c.Phone, CreatedAt: c.CreatedAt}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": result})
}

func (s *Server) handleListFilters(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		s.writeError(w, r, domain.NewError(domain.KindInvalidFormat, "phone is required"))
		return
	}
	filters, err := s.monitor.ListFilters(r.Context(), owner, phone)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result := make([]Filter, len(filters))
	for i, f := range filters {
		result[i] = toFilter(f)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"filters": result})
}

func (s *Server) handleAddFilter(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var req AddFilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, domain.WrapError(domain.KindInvalidFormat, err, "invalid request body"))
		return
	}
	f, err := s.monitor.AddFilter(r.Context(), owner, req.Phone, req.Kind, req.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"filter": toFilter(f)})
}

func (s *Server) owner(w http.ResponseWriter, r *http.Request) (domain.OwnerID, bool) {
	owner, err := domain.ParseOwnerID(chi.URLParam(r, "owner"))
	if err != nil || owner <= 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid owner id"})
		return 0, false
	}
	return owner, true
}

func toFilter(f *domain.Filter) Filter {
	return Filter{
		ID:        f.ID,
		Phone:     f.Phone,
		Kind:      string(f.Kind),
		Value:     f.Value,
		CreatedAt: f.CreatedAt,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.C(r.Context(), logger.Named("api")).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	s.writeJSON(w, status, map[string]string{
		"error": domain.MessageOf(err),
		"kind":  domain.KindOf(err).String(),
	})
}

func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidFormat, domain.KindInvalidFilterKind, domain.KindInvalidSelection:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindNotAttached, domain.KindQuotaExceeded:
		return http.StatusConflict
	case domain.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
