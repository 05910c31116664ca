package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"formation-flying/internal/adapter/store"
	"formation-flying/internal/domain"
)

type clientKey struct{}

func clientFrom(ctx context.Context) string {
	c, _ := ctx.Value(clientKey{}).(string)
	return c
}

// requireToken authenticates via the token query parameter or a bearer
// Authorization header.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		client, err := s.opts.Auth.Authenticate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey{}, client)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	if code := domain.ErrorCodeOf(err); code != domain.CodeUnknown {
		resp.Code = string(code)
	}
	writeJSON(w, status, resp)
}

// storeError maps a store failure to a response.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domain.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	s.logger.Warn("run store query failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("result store is disabled"))
		return false
	}
	return true
}

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Store         bool   `json:"store"`
	Live          bool   `json:"live"`
	Clients       int64  `json:"stream_clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(s.stats.Uptime(s.started).Seconds()),
		Store:         s.store != nil,
		Live:          s.bus != nil,
		Clients:       s.stats.clients.Load(),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	q := r.URL.Query()
	f := store.ListFilter{Method: q.Get("method"), Batch: q.Get("batch"), Limit: 100}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, domain.NewDomainError("listRuns", domain.ErrInvalidInput, "limit must be a positive integer"))
			return
		}
		f.Limit = min(n, 1000)
	}
	runs, err := s.store.ListRuns(r.Context(), f)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleFlights(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	flights, err := s.store.FlightResults(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if b := r.URL.Query().Get("behavior"); b != "" {
		behavior, err := domain.ParseBehavior(b)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		kept := flights[:0]
		for _, f := range flights {
			if f.Behavior == behavior {
				kept = append(kept, f)
			}
		}
		flights = kept
	}
	writeJSON(w, http.StatusOK, flights)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	series, err := s.store.Series(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}
