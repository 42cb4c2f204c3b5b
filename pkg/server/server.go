// Package server is the session service exposed inside the codemode
// container (and by `codemode serve`): HTTP endpoints for executing agent
// code against per-session interpreters over a shared storage backend.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/codemode-ai/codemode/pkg/deps"
	"github.com/codemode-ai/codemode/pkg/embeddings"
	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/executor"
	"github.com/codemode-ai/codemode/pkg/executor/inprocess"
	"github.com/codemode-ai/codemode/pkg/logger"
	"github.com/codemode-ai/codemode/pkg/skills"
	"github.com/codemode-ai/codemode/pkg/storage"
	"github.com/codemode-ai/codemode/pkg/tools"
	"github.com/codemode-ai/codemode/pkg/types"
	"github.com/codemode-ai/codemode/pkg/vector"
)

// Server hosts the session endpoints. Sessions are identified by the
// X-Session-ID header; each one owns an in-process interpreter, all of
// them sharing one storage backend.
type Server struct {
	cfg       Config
	backend   storage.Backend
	registry  *tools.Registry
	library   *skills.Library
	provider  *executor.StorageProvider
	installer deps.Installer

	started time.Time

	mu       sync.Mutex
	sessions map[string]*session
	ready    bool
}

type session struct {
	exec     *inprocess.Executor
	lastUsed time.Time
}

// New creates an uninitialized server. Requests are answered with 503
// until Initialize succeeds.
func New(cfg Config) *Server {
	return &Server{cfg: cfg, sessions: map[string]*session{}, started: time.Now()}
}

// Initialize opens storage, loads the tool registry, and warms the skill
// index.
func (s *Server) Initialize(ctx context.Context) error {
	backend, err := storage.OpenAccess(s.cfg.backendAccess())
	if err != nil {
		return err
	}

	embedder := embeddings.NewHashEmbedder(0)
	index, err := vector.NewChromemIndex("", embedder)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(embedder)
	if err := tools.LoadStore(ctx, registry, backend.ToolStore()); err != nil {
		_ = registry.Close()
		_ = backend.Close()
		return err
	}

	library := skills.NewLibrary(backend.SkillStore(), skills.WithIndex(index), skills.WithEmbedder(embedder))
	if err := library.Refresh(ctx); err != nil {
		logger.Warnw("skill index warm-up failed", "error", err)
	}

	installer := deps.Installer(deps.NoopInstaller{})
	if s.cfg.InstallCommand != "" {
		installer = deps.NewCommandInstaller(s.cfg.InstallCommand, []string{"install"}, []string{"uninstall", "-y"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = backend
	s.registry = registry
	s.library = library
	s.installer = installer
	s.provider = executor.NewStorageProvider(registry, library, backend.ArtifactStore(), backend.DepsStore(), installer,
		executor.WithRuntimeDeps(s.cfg.RuntimeDeps))
	s.ready = true

	if s.cfg.AuthDisabled {
		logger.Warn("authentication is DISABLED; every client has full session access")
	}
	return nil
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireReady)
		r.Use(bearerAuth(s.cfg.AuthToken, s.cfg.AuthDisabled))
		r.Get("/info", s.handleInfo)
		r.Post("/execute", s.handleExecute)
		r.Post("/reset", s.handleReset)
		r.Post("/install_deps", s.handleInstallDeps)
		r.Post("/uninstall_deps", s.handleUninstallDeps)
	})
	return r
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Infow("session service listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close tears down every session and the storage backend.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		_ = sess.exec.Close()
		delete(s.sessions, id)
	}
	s.ready = false
	if s.registry != nil {
		_ = s.registry.Close()
	}
	if s.backend != nil {
		return s.backend.Close()
	}
	return nil
}

func (s *Server) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ready := s.ready
		s.mu.Unlock()
		if !ready {
			writeError(w, errors.NewUnavailable("server is not initialized", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// catalogEntry is the name/description pair listed by /info.
type catalogEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	toolEntries := []catalogEntry{}
	for _, tool := range s.registry.List() {
		toolEntries = append(toolEntries, catalogEntry{Name: tool.Name, Description: tool.Description})
	}
	skillEntries := []catalogEntry{}
	if list, err := s.library.List(r.Context()); err == nil {
		for _, skill := range list {
			skillEntries = append(skillEntries, catalogEntry{Name: skill.Name, Description: skill.Description})
		}
	}
	pkgs, _ := s.backend.DepsStore().List(r.Context())
	if pkgs == nil {
		pkgs = []string{}
	}

	s.mu.Lock()
	active := len(s.sessions)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"tools":          toolEntries,
		"skills":         skillEntries,
		"artifacts_path": s.backend.ArtifactStore().Path(),
		"deps":           pkgs,
		"sessions":       active,
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code    string  `json:"code"`
		Timeout float64 `json:"timeout"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewInvalidSource("request body is not valid JSON", err))
		return
	}
	if req.Code == "" {
		writeError(w, errors.NewInvalidSource("code is required", nil))
		return
	}

	sess, sessionID, err := s.sessionFor(r)
	if err != nil {
		writeError(w, err)
		return
	}

	timeout := time.Duration(req.Timeout * float64(time.Second))
	result, err := sess.exec.Run(r.Context(), req.Code, timeout)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-Session-ID", sessionID)
	writeJSON(w, http.StatusOK, executeResponse{ExecutionResult: result, SessionID: sessionID})
}

// executeResponse is the execute body: the run result plus the session
// that served it.
type executeResponse struct {
	*types.ExecutionResult
	SessionID string `json:"session_id"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, sessionID, err := s.sessionFor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := sess.exec.Reset(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "session_id": sessionID})
}

func (s *Server) handleInstallDeps(w http.ResponseWriter, r *http.Request) {
	pkgs, err := decodePackages(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.installer.Install(r.Context(), pkgs)
	if err != nil {
		writeError(w, err)
		return
	}
	depsStore := s.backend.DepsStore()
	for _, pkg := range result.Installed {
		if err := depsStore.Add(r.Context(), pkg); err != nil {
			logger.Warnw("recording installed package failed", "package", pkg, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUninstallDeps(w http.ResponseWriter, r *http.Request) {
	pkgs, err := decodePackages(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.installer.Uninstall(r.Context(), pkgs)
	if err != nil {
		writeError(w, err)
		return
	}
	depsStore := s.backend.DepsStore()
	for _, pkg := range result.Removed {
		if _, err := depsStore.Remove(r.Context(), pkg); err != nil {
			logger.Warnw("removing package record failed", "package", pkg, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func decodePackages(r *http.Request) ([]string, error) {
	var req struct {
		Packages []string `json:"packages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.NewInvalidSource("request body is not valid JSON", err)
	}
	if len(req.Packages) == 0 {
		return nil, errors.NewInvalidName("packages is required", nil)
	}
	for _, pkg := range req.Packages {
		if err := deps.ValidatePackageSpec(pkg); err != nil {
			return nil, err
		}
	}
	return req.Packages, nil
}

// sessionFor returns the caller's session, creating it on first use and
// sweeping expired ones while it holds the lock.
func (s *Server) sessionFor(r *http.Request) (*session, string, error) {
	sessionID := r.Header.Get("X-Session-ID")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	ttl := s.cfg.SessionTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	for id, sess := range s.sessions {
		if id != sessionID && now.Sub(sess.lastUsed) > ttl {
			logger.Debugw("expiring idle session", "session_id", id)
			_ = sess.exec.Close()
			delete(s.sessions, id)
		}
	}

	sess, ok := s.sessions[sessionID]
	if !ok {
		exec := inprocess.New(s.provider)
		if err := exec.Start(r.Context(), nil); err != nil {
			return nil, "", err
		}
		sess = &session{exec: exec}
		s.sessions[sessionID] = sess
	}
	sess.lastUsed = now
	return sess, sessionID, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnw("writing response failed", "error", err)
	}
}

// writeError maps error kinds onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.KindOf(err) {
	case errors.KindAuthRequired, errors.KindAuthInvalid:
		status = http.StatusUnauthorized
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindInvalidName, errors.KindInvalidSource:
		status = http.StatusBadRequest
	case errors.KindTimeout:
		status = http.StatusRequestTimeout
	case errors.KindUnavailable:
		status = http.StatusServiceUnavailable
	case errors.KindAlreadyExists:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
