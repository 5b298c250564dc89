package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hospital-query/internal/domain"
	"hospital-query/internal/session"
	"hospital-query/internal/usecase"
)

const (
	cookieName     = "hq_session"
	maxBodyBytes   = 64 << 10
	maxTranscript  = 100
	shutdownPeriod = 10 * time.Second
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Exchange is one user message and the assistant's reply as shown on the page.
type Exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

type pageData struct {
	Exchanges  []Exchange
	Last       int
	Total      int
	Configured bool
}

type queryRequest struct {
	Message string `json:"message"`
	APIKey  string `json:"apiKey,omitempty"`
}

type queryResponse struct {
	Response        string         `json:"response"`
	TokensUsed      int            `json:"tokensUsed"`
	TotalTokensUsed int            `json:"totalTokensUsed"`
	Outcome         domain.Outcome `json:"outcome"`
	Reason          string         `json:"reason,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Server is the browser chat surface. Sessions are keyed by cookie; the
// visible transcript lives here, token totals live in the session.
type Server struct {
	store        *session.Store
	logger       *slog.Logger
	metrics      http.Handler
	middleware   func(http.Handler) http.Handler
	secureCookie bool

	mu          sync.Mutex
	transcripts map[string][]Exchange
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics mounts h at /metrics and wraps every route with mw.
func WithMetrics(h http.Handler, mw func(http.Handler) http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
		s.middleware = mw
	}
}

// WithSecureCookie marks the session cookie Secure (HTTPS deployments).
func WithSecureCookie(secure bool) Option {
	return func(s *Server) {
		s.secureCookie = secure
	}
}

func NewServer(store *session.Store, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, errors.New("web: session store must not be nil")
	}
	s := &Server{
		store:       store,
		logger:      slog.Default(),
		transcripts: make(map[string][]Exchange),
	}
	for _, opt := range opts {
		opt(s)
	}
	store.OnEvict(s.dropTranscript)
	return s, nil
}

// Routes returns the HTTP handler for every endpoint.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /{$}", s.handleSubmit)
	mux.HandleFunc("POST /clear", s.handleClearForm)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/usage", s.handleUsage)
	mux.HandleFunc("POST /api/clear", s.handleClear)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	var h http.Handler = mux
	if s.middleware != nil {
		h = s.middleware(h)
	}
	return h
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web: listen: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownPeriod)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("web: shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	usage := sess.Usage()
	data := pageData{
		Exchanges:  s.transcript(sess.ID()),
		Last:       usage.Last,
		Total:      usage.Total,
		Configured: sess.Configured(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to render page", "err", err)
	}
}

// handleSubmit serves the plain HTML form and redirects back to the page.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	if msg := r.PostFormValue("message"); strings.TrimSpace(msg) != "" {
		s.ask(r.Context(), sess, msg, r.PostFormValue("api_key"))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleClearForm(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	s.clear(r.Context(), sess)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   string(usecase.ErrorInvalidInput),
			Message: "invalid request body",
		})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   string(usecase.ErrorInvalidInput),
			Message: "message is required",
		})
		return
	}

	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	res, usage := s.ask(r.Context(), sess, req.Message, req.APIKey)
	writeJSON(w, http.StatusOK, queryResponse{
		Response:        res.Response,
		TokensUsed:      res.TokensUsed,
		TotalTokensUsed: usage.Total,
		Outcome:         res.Outcome,
		Reason:          res.Reason,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Usage())
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.clear(r.Context(), sess))
}

// ask applies an optional per-submission API key, runs the query and
// appends the exchange to the visible transcript.
func (s *Server) ask(ctx context.Context, sess *session.Session, message, apiKey string) (domain.QueryResult, domain.Usage) {
	if strings.TrimSpace(apiKey) != "" {
		if err := sess.Configure(apiKey); err != nil {
			s.logger.WarnContext(ctx, "api key not accepted", "session_id", sess.ID(), "err", err)
		}
	}

	res, usage := sess.Handle(ctx, message)

	// A session evicted while its query ran keeps no transcript.
	if _, live := s.store.Get(sess.ID()); !live {
		return res, usage
	}
	s.mu.Lock()
	t := append(s.transcripts[sess.ID()], Exchange{User: message, Assistant: res.Response})
	if len(t) > maxTranscript {
		t = t[len(t)-maxTranscript:]
	}
	s.transcripts[sess.ID()] = t
	s.mu.Unlock()

	return res, usage
}

// clear drops the transcript and zeroes the session counters.
func (s *Server) clear(ctx context.Context, sess *session.Session) domain.Usage {
	s.mu.Lock()
	delete(s.transcripts, sess.ID())
	s.mu.Unlock()

	if err := sess.Reset(ctx); err != nil {
		s.logger.ErrorContext(ctx, "failed to reset session usage", "session_id", sess.ID(), "err", err)
	}
	return sess.Usage()
}

func (s *Server) dropTranscript(id string) {
	s.mu.Lock()
	delete(s.transcripts, id)
	s.mu.Unlock()
}

func (s *Server) transcript(id string) []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Exchange, len(s.transcripts[id]))
	copy(out, s.transcripts[id])
	return out
}

// openSession resolves the cookie to a session, issuing a new cookie when
// the request has none or carries a malformed one.
func (s *Server) openSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := ""
	if c, err := r.Cookie(cookieName); err == nil {
		if _, perr := uuid.Parse(c.Value); perr == nil {
			id = c.Value
		}
	}

	sess, err := s.store.Open(r.Context(), id)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to open session", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   string(usecase.ErrorInternal),
			Message: "internal server error",
		})
		return nil, false
	}

	if sess.ID() != id {
		http.SetCookie(w, &http.Cookie{
			Name:     cookieName,
			Value:    sess.ID(),
			Path:     "/",
			HttpOnly: true,
			Secure:   s.secureCookie,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
