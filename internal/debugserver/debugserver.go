// Package debugserver is the daemon's read-only operator surface (SPEC_FULL
// §2): GET /agents, GET /agents/{id}, GET /sessions and an SSE bridge at
// GET /events off the watermill-backed event.Bus. It watches the agents
// directory with fsnotify to push session.created notifications without
// polling.
//
// Grounded on the teacher's internal/server package: chi router with the
// same middleware stack (RequestID, Logger, Recoverer, RealIP, cors.Handler)
// from server.go's setupMiddleware, the JSON response helpers from
// response.go, and the sseWriter/heartbeat-ticker pattern from sse.go. The
// teacher's server is a full read-write API over a single session tree;
// this surface is read-only and spans the whole agent tree, so routes.go's
// large route table has no equivalent here.
package debugserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/substratai/substrat/internal/event"
	"github.com/substratai/substrat/internal/logging"
	"github.com/substratai/substrat/internal/orchestrator"
	"github.com/substratai/substrat/pkg/types"
)

const heartbeatInterval = 30 * time.Second

// Server exposes the daemon's read-only HTTP diagnostics surface.
type Server struct {
	router   *chi.Mux
	httpSrv  *http.Server
	orch     *orchestrator.Orchestrator
	bus      *event.Bus
	watcher  *fsnotify.Watcher
	agentDir string
}

// New builds a Server wired to orch and bus. agentDir is watched for new
// session directories (<agentDir>/<session-uuid>) to emit session.created
// notifications over the SSE bridge.
func New(agentDir string, orch *orchestrator.Orchestrator, bus *event.Bus) (*Server, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("debugserver: new watcher: %w", err)
	}
	if err := watcher.Add(agentDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("debugserver: watch %s: %w", agentDir, err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		orch:     orch,
		bus:      bus,
		watcher:  watcher,
		agentDir: agentDir,
	}
	s.setupMiddleware()
	s.setupRoutes()
	go s.watchAgentDir()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept", "X-Request-ID"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/agents", s.listAgents)
	s.router.Get("/agents/{id}", s.getAgent)
	s.router.Get("/sessions", s.listSessions)
	s.router.Get("/events", s.streamEvents)
}

// ListenAndServe starts the HTTP server on addr, blocking until it returns
// an error (including http.ErrServerClosed after Shutdown).
func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	return s.httpSrv.ListenAndServe()
}

// Close stops the fsnotify watcher and, if running, the HTTP server.
func (s *Server) Close() error {
	s.watcher.Close()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}

func (s *Server) watchAgentDir() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create == fsnotify.Create {
				s.bus.Publish(event.Event{
					Type: "session.created",
					Data: map[string]string{"path": ev.Name},
				})
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn().Err(err).Msg("debugserver: fsnotify watch error")
		}
	}
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Tree().All())
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	id := types.ID(chi.URLParam(r, "id"))
	node, err := s.orch.Tree().Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not-found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.orch.ListSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "io-failure", err.Error())
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// streamEvents is an SSE bridge off the event bus, grounded on the
// teacher's sse.go allEvents/globalEvents handlers.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "io-failure", "streaming not supported")
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan event.Event, 16)
	unsub := s.bus.SubscribeAll(func(e event.Event) {
		select {
		case events <- e:
		default:
			logging.Warn().Str("event_type", string(e.Type)).Msg("debugserver: SSE event dropped, channel full")
		}
	})
	defer unsub()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := writeSSEEvent(w, flusher, string(e.Type), e.Data); err != nil {
				return
			}
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
