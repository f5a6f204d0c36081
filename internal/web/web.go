package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"famcal/internal/calendar"
	"famcal/internal/config"
	appLog "famcal/internal/log"
	"famcal/internal/model"
	"famcal/internal/tasks"
)

// EventsCacheTTL bounds how long an /api/events response is reused.
const EventsCacheTTL = 30 * time.Second

// Server provides the HTTP API over a calendar book.
type Server struct {
	cfg  *config.Config
	book *calendar.Book
	mux  *http.ServeMux
	now  func() time.Time

	// In-memory cache for /api/events responses keyed by raw query.
	eventsMu    sync.RWMutex
	eventsCache map[string]*eventsCache
}

type eventsCache struct {
	resp      eventsResponse
	updatedAt time.Time
}

type occurrenceDTO struct {
	ID         string       `json:"id"`
	SourceID   string       `json:"sourceId"`
	Origin     model.Origin `json:"origin"`
	Calendar   string       `json:"calendar"`
	Name       string       `json:"name"`
	Kind       model.Kind   `json:"type"`
	AllDay     bool         `json:"allDay"`
	Done       bool         `json:"done"`
	OrderIndex int          `json:"orderIndex"`
	Start      *time.Time   `json:"start,omitempty"`
	End        *time.Time   `json:"end,omitempty"`
}

type eventsResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	RangeStart      time.Time       `json:"rangeStart"`
	RangeEnd        time.Time       `json:"rangeEnd"`
	DisplayTimeZone string          `json:"displayTimeZone"`
}

type scheduleResponse struct {
	Items    []occurrenceDTO `json:"items"`
	Now      time.Time       `json:"now"`
	QueueEnd time.Time       `json:"queueEnd"`
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, book *calendar.Book) *Server {
	s := &Server{
		cfg:         cfg,
		book:        book,
		mux:         http.NewServeMux(),
		now:         time.Now,
		eventsCache: make(map[string]*eventsCache),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Invalidate drops cached responses. Call it when the book changes.
func (s *Server) Invalidate() {
	s.eventsMu.Lock()
	s.eventsCache = make(map[string]*eventsCache)
	s.eventsMu.Unlock()
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="famcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/schedule", s.handleSchedule)
	s.mux.HandleFunc("GET /api/overlaps", s.handleOverlaps)
	s.mux.HandleFunc("POST /api/tasks", s.handleAddTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/commit", s.handleCommit)
	s.mux.HandleFunc("POST /api/tasks/{id}/done", s.handleDone)
	s.mux.HandleFunc("POST /api/tasks/{id}/release", s.handleRelease)
	s.mux.HandleFunc("POST /api/tasks/{id}/move", s.handleMove)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDelete)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleEvents lists concrete items in [now-backfill days, now+days).
// Query: days (default 7), backfill (default 1), calendars (comma list).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	key := r.URL.RawQuery
	cacheNow := s.now()

	s.eventsMu.RLock()
	ec := s.eventsCache[key]
	s.eventsMu.RUnlock()
	if ec != nil && cacheNow.Sub(ec.updatedAt) < EventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}

	loc := resolveLocationOrLocal(s.cfg.Timezone)
	now := cacheNow.In(loc)
	rangeStart := now.AddDate(0, 0, -backfill)
	rangeEnd := now.AddDate(0, 0, days)

	appLog.Debug("api events request",
		"days", days,
		"backfill", backfill,
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
	)

	occs := s.book.InRange(splitList(q.Get("calendars")), rangeStart, rangeEnd)
	resp := eventsResponse{
		Occurrences:     toDTOs(occs, loc),
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
	}

	s.eventsMu.Lock()
	s.eventsCache[key] = &eventsCache{resp: resp, updatedAt: cacheNow}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// handleSchedule returns the merged event/task view. Query: includeDone.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	includeDone, _ := strconv.ParseBool(r.URL.Query().Get("includeDone"))
	loc := resolveLocationOrLocal(s.cfg.Timezone)
	now := s.now().In(loc)
	writeJSON(w, http.StatusOK, scheduleResponse{
		Items:    toDTOs(s.book.Schedule(includeDone, now), loc),
		Now:      now,
		QueueEnd: s.book.QueueEnd(now),
	})
}

// handleOverlaps lists items conflicting with a candidate slot.
// Query: start, end (RFC 3339), exclude, calendars.
func (s *Server) handleOverlaps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end")
		return
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "end must be after start")
		return
	}
	loc := resolveLocationOrLocal(s.cfg.Timezone)
	occs := s.book.Overlaps(start, end, splitList(q.Get("calendars")), q.Get("exclude"))
	writeJSON(w, http.StatusOK, toDTOs(occs, loc))
}

type addTaskRequest struct {
	Calendar        string `json:"calendar"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"durationMinutes"`
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req addTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	ev, err := s.book.AddTask(r.Context(), req.Calendar, req.Name, req.DurationMinutes)
	if err != nil {
		appLog.Error("api add task failed", err)
		writeError(w, http.StatusInternalServerError, "failed to add task")
		return
	}
	s.Invalidate()
	writeJSON(w, http.StatusCreated, ev)
}

type commitRequest struct {
	Start *time.Time `json:"start"`
}

// handleCommit pins a task. An optional body {"start": RFC 3339} picks the
// slot; without it the currently computed slot is kept.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.mutateTask(w, r, func(ctx context.Context, id string) (model.Event, error) {
		if req.Start != nil {
			return s.book.PinTask(ctx, id, *req.Start)
		}
		return s.book.CommitTask(ctx, id, s.now())
	})
}

func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	s.mutateTask(w, r, s.book.CompleteTask)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	s.mutateTask(w, r, s.book.ReleaseTask)
}

type moveRequest struct {
	Position int `json:"position"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := r.PathValue("id")
	if err := s.book.MoveTask(r.Context(), id, req.Position); err != nil {
		s.writeMutationError(w, r, id, err)
		return
	}
	s.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.book.Delete(r.Context(), id); err != nil {
		s.writeMutationError(w, r, id, err)
		return
	}
	s.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) mutateTask(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (model.Event, error)) {
	id := r.PathValue("id")
	ev, err := fn(r.Context(), id)
	if err != nil {
		s.writeMutationError(w, r, id, err)
		return
	}
	s.Invalidate()
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) writeMutationError(w http.ResponseWriter, r *http.Request, id string, err error) {
	if errors.Is(err, tasks.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	appLog.Error("api mutation failed", err, "id", id, "path", r.URL.Path)
	writeError(w, http.StatusInternalServerError, "failed to update")
}

func toDTOs(occs []model.Occurrence, loc *time.Location) []occurrenceDTO {
	out := make([]occurrenceDTO, 0, len(occs))
	for _, o := range occs {
		dto := occurrenceDTO{
			ID:         o.ID,
			SourceID:   o.SourceID(),
			Origin:     o.Origin,
			Calendar:   o.Calendar,
			Name:       o.Name,
			Kind:       o.Kind,
			AllDay:     o.AllDay,
			Done:       o.Done,
			OrderIndex: o.OrderIndex,
		}
		if !o.Start.IsZero() {
			start, end := o.Start.In(loc), o.End.In(loc)
			dto.Start, dto.End = &start, &end
		}
		out = append(out, dto)
	}
	return out
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" || name == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
