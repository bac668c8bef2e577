// Package consoled emulates the PythonAnywhere consoles API on localhost so
// the deploy automation can be exercised against a real shell without an
// account. It serves the same routes the platform does: consoles are created
// over the API, refuse input with 412 until their page has been visited, and
// stream raw terminal output back through get_latest_output.
package consoled

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

var errNotStarted = errors.New("console not yet started")

type Config struct {
	ListenAddr string
	Username   string
	Token      string

	// Shell is the executable consoles run. Defaults to bash.
	Shell string

	// IdleTimeout reaps consoles nobody has touched. Zero disables reaping.
	IdleTimeout time.Duration

	Logger *slog.Logger
}

type Server struct {
	cfg    Config
	router *mux.Router
	httpd  *http.Server
	log    *slog.Logger

	mu       sync.Mutex
	nextID   int
	sessions map[int]*session

	startShell shellStarter
}

func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8800"
	}
	if cfg.Username == "" {
		return nil, errors.New("consoled: username is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("consoled: token is required")
	}
	if cfg.Shell == "" {
		cfg.Shell = "bash"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	s := &Server{
		cfg:        cfg,
		log:        cfg.Logger,
		nextID:     1,
		sessions:   make(map[int]*session),
		startShell: startBash,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v0/user/{username}/consoles").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/{id:[0-9]+}/", s.handleInfo).Methods(http.MethodGet)
	api.HandleFunc("/{id:[0-9]+}/", s.handleKill).Methods(http.MethodDelete)
	api.HandleFunc("/{id:[0-9]+}/send_input/", s.handleSendInput).Methods(http.MethodPost)
	api.HandleFunc("/{id:[0-9]+}/get_latest_output/", s.handleLatestOutput).Methods(http.MethodGet)

	// The browser page. Visiting it is what actually starts the shell.
	r.HandleFunc("/user/{username}/consoles/{id:[0-9]+}/", s.handlePage).Methods(http.MethodGet)

	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled, then shuts down and kills every
// console.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.httpd = &http.Server{Handler: s.router}
	s.log.Info("consoled listening", "addr", lis.Addr().String(), "user", s.cfg.Username)

	if s.cfg.IdleTimeout > 0 {
		go s.reapLoop(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpd.Serve(lis) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpd.Shutdown(shutdownCtx)
		s.closeAll()
		return nil
	case err := <-errCh:
		s.closeAll()
		return err
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[int]*session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}
}

func (s *Server) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.cfg.IdleTimeout)
			s.mu.Lock()
			var stale []*session
			for id, sess := range s.sessions {
				if sess.idleSince().Before(cutoff) {
					stale = append(stale, sess)
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
			for _, sess := range stale {
				s.log.Info("reaping idle console", "id", sess.id)
				sess.close()
			}
		}
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["username"] != s.cfg.Username {
			s.jsonError(w, http.StatusNotFound, "unknown user")
			return
		}
		if r.Header.Get("Authorization") != "Token "+s.cfg.Token {
			s.jsonError(w, http.StatusUnauthorized, "Invalid token.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// consoleInfo mirrors the consoles API resource shape.
type consoleInfo struct {
	ID         int    `json:"id"`
	User       string `json:"user"`
	Executable string `json:"executable"`
	ConsoleURL string `json:"console_url"`
}

func (s *Server) info(sess *session) consoleInfo {
	return consoleInfo{
		ID:         sess.id,
		User:       s.cfg.Username,
		Executable: sess.executable,
		ConsoleURL: fmt.Sprintf("/user/%s/consoles/%d/", s.cfg.Username, sess.id),
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	infos := make([]consoleInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, s.info(sess))
	}
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Executable string `json:"executable"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Executable == "" {
		req.Executable = s.cfg.Shell
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	sess := newSession(id, req.Executable, s.startShell)
	s.sessions[id] = sess
	s.mu.Unlock()

	s.log.Info("console created", "id", id, "executable", req.Executable)
	s.writeJSON(w, http.StatusCreated, s.info(sess))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r)
	if !ok {
		s.jsonError(w, http.StatusNotFound, "console not found")
		return
	}
	s.writeJSON(w, http.StatusOK, s.info(sess))
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r)
	if !ok {
		s.jsonError(w, http.StatusNotFound, "console not found")
		return
	}
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	sess.close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendInput(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r)
	if !ok {
		s.jsonError(w, http.StatusNotFound, "console not found")
		return
	}
	var req struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := sess.sendInput(req.Input)
	if errors.Is(err, errNotStarted) {
		s.jsonError(w, http.StatusPreconditionFailed, "Console not yet started.")
		return
	}
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *Server) handleLatestOutput(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r)
	if !ok {
		s.jsonError(w, http.StatusNotFound, "console not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"output": sess.latestOutput()})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if mux.Vars(r)["username"] != s.cfg.Username {
		http.NotFound(w, r)
		return
	}
	sess, ok := s.lookup(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := sess.ensureStarted(); err != nil {
		s.log.Error("console start failed", "id", sess.id, "error", err)
		http.Error(w, "could not start console", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><h1>Console %d</h1><p>%s is running.</p></body></html>\n",
		sess.id, sess.executable)
}

func (s *Server) lookup(r *http.Request) (*session, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, code int, detail string) {
	s.writeJSON(w, code, map[string]string{"detail": detail})
}
