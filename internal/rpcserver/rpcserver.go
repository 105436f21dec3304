// Package rpcserver implements the newline-delimited JSON-RPC wire protocol
// of spec §6 over a Unix domain socket: {id, method, params} requests,
// {id, result} / {id, error:{code, message}} responses, dispatching
// agent.create, agent.spawn, agent.terminate, agent.send, session.list,
// session.suspend, session.resume, session.delete into the Orchestrator.
//
// No teacher package speaks this exact wire format (the teacher's
// internal/server is HTTP+JSON, not a line-oriented socket protocol), so
// the framing is grounded directly on spec §6's contract; request dispatch
// and per-connection goroutine handling follow the same accept-loop shape
// the teacher's internal/server.Start wraps around net/http.
package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/substratai/substrat/internal/coreerr"
	"github.com/substratai/substrat/internal/logging"
	"github.com/substratai/substrat/internal/orchestrator"
	"github.com/substratai/substrat/pkg/types"
)

// Request is one line of the wire protocol sent by a client.
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is one line of the wire protocol sent back to a client. Exactly
// one of Result/Error is populated.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// ResponseError mirrors a coreerr.Kind as a stable wire code plus message.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server accepts connections on a Unix domain socket and dispatches each
// newline-delimited request into the Orchestrator.
type Server struct {
	socketPath string
	orch       *orchestrator.Orchestrator
	listener   net.Listener

	wg sync.WaitGroup
}

// New returns a Server that will listen on socketPath once Serve is called.
func New(socketPath string, orch *orchestrator.Orchestrator) *Server {
	return &Server{socketPath: socketPath, orch: orch}
}

// Serve removes any stale socket file, binds the Unix listener, and accepts
// connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(Response{Error: &ResponseError{Code: string(coreerr.RouteInvalid), Message: "malformed request: " + err.Error()}})
			continue
		}

		result, err := s.dispatch(ctx, req.Method, req.Params)
		resp := Response{ID: req.ID}
		if err != nil {
			resp.Error = toResponseError(err)
		} else {
			resp.Result = result
		}
		if err := enc.Encode(resp); err != nil {
			logging.Warn().Err(err).Msg("rpcserver: write response failed")
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logging.Warn().Err(err).Msg("rpcserver: connection read failed")
	}
}

func toResponseError(err error) *ResponseError {
	if ce, ok := err.(*coreerr.Error); ok {
		return &ResponseError{Code: string(ce.Kind), Message: ce.Reason}
	}
	return &ResponseError{Code: string(coreerr.IOFailure), Message: err.Error()}
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "agent.create":
		return s.agentCreate(ctx, params)
	case "agent.spawn":
		return s.agentSpawn(ctx, params)
	case "agent.terminate":
		return s.agentTerminate(ctx, params)
	case "agent.send":
		return s.agentSend(ctx, params)
	case "session.list":
		return s.sessionList(ctx, params)
	case "session.suspend":
		return s.sessionSuspend(ctx, params)
	case "session.resume":
		return s.sessionResume(ctx, params)
	case "session.delete":
		return s.sessionDelete(ctx, params)
	default:
		return nil, coreerr.New(coreerr.NotFound, "unknown method: "+method)
	}
}

type agentCreateParams struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
	Role         string `json:"role"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
}

func (s *Server) agentCreate(ctx context.Context, raw json.RawMessage) (any, error) {
	var p agentCreateParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, coreerr.Wrap(coreerr.RouteInvalid, "invalid agent.create params", err)
	}
	return s.orch.CreateRootAgent(ctx, p.Name, p.Instructions, p.Role, p.Provider, p.Model)
}

type agentSpawnParams struct {
	ParentID     types.ID `json:"parent_id"`
	Name         string   `json:"name"`
	Instructions string   `json:"instructions"`
	Role         string   `json:"role"`
}

func (s *Server) agentSpawn(ctx context.Context, raw json.RawMessage) (any, error) {
	var p agentSpawnParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, coreerr.Wrap(coreerr.RouteInvalid, "invalid agent.spawn params", err)
	}
	return s.orch.SpawnChild(ctx, p.ParentID, p.Name, p.Instructions, p.Role)
}

type agentTerminateParams struct {
	AgentID types.ID `json:"agent_id"`
}

func (s *Server) agentTerminate(ctx context.Context, raw json.RawMessage) (any, error) {
	var p agentTerminateParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, coreerr.Wrap(coreerr.RouteInvalid, "invalid agent.terminate params", err)
	}
	if err := s.orch.TerminateAgent(p.AgentID); err != nil {
		return nil, err
	}
	return map[string]string{"status": "terminated"}, nil
}

type agentSendParams struct {
	AgentID types.ID `json:"agent_id"`
	Prompt  string   `json:"prompt"`
}

type agentSendResult struct {
	Response string `json:"response"`
}

func (s *Server) agentSend(ctx context.Context, raw json.RawMessage) (any, error) {
	var p agentSendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, coreerr.Wrap(coreerr.RouteInvalid, "invalid agent.send params", err)
	}
	response, err := s.orch.RunTurn(ctx, p.AgentID, p.Prompt)
	if err != nil {
		return nil, err
	}
	return agentSendResult{Response: response}, nil
}

func (s *Server) sessionList(ctx context.Context, raw json.RawMessage) (any, error) {
	return s.orch.ListSessions()
}

type sessionIDParams struct {
	SessionID types.ID `json:"session_id"`
}

func (s *Server) sessionSuspend(ctx context.Context, raw json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, coreerr.Wrap(coreerr.RouteInvalid, "invalid session.suspend params", err)
	}
	if err := s.orch.SuspendSession(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return map[string]string{"status": "suspended"}, nil
}

func (s *Server) sessionResume(ctx context.Context, raw json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, coreerr.Wrap(coreerr.RouteInvalid, "invalid session.resume params", err)
	}
	if err := s.orch.ResumeSession(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return map[string]string{"status": "resumed"}, nil
}

func (s *Server) sessionDelete(ctx context.Context, raw json.RawMessage) (any, error) {
	var p sessionIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, coreerr.Wrap(coreerr.RouteInvalid, "invalid session.delete params", err)
	}
	if err := s.orch.DeleteSession(p.SessionID); err != nil {
		return nil, err
	}
	return map[string]string{"status": "deleted"}, nil
}
