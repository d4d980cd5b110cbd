// Package agentserver is the persistent in-sandbox listener. It accepts one
// request envelope per connection, dispatches it to the job registry by
// method name, and writes the response envelope back. It lives for the
// sandbox session; the host reaches it only through the stateless relay.
package agentserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/net/netutil"

	"github.com/outpost-run/outpost/internal/jobs"
	"github.com/outpost-run/outpost/internal/wire"
)

// MaxConcurrentConns caps in-flight connections. Each host call costs one
// sandbox exec, so the legitimate rate is low; the cap just keeps a
// misbehaving client from exhausting agent file descriptors.
const MaxConcurrentConns = 64

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

type Server struct {
	logger   *log.Logger
	registry *jobs.Registry
	handlers map[string]handlerFunc

	inflightMu sync.Mutex
	inflight   map[wire.ID]struct{}
}

func New(logger *log.Logger, registry *jobs.Registry) *Server {
	s := &Server{
		logger:   logger,
		registry: registry,
		inflight: make(map[wire.ID]struct{}),
	}
	// Dispatch is a static lookup: adding a method means adding an entry
	// here, nothing else.
	s.handlers = map[string]handlerFunc{
		wire.MethodStart: s.handleStart,
		wire.MethodKill:  s.handleKill,
	}
	return s
}

// Serve accepts connections until the listener is closed. Handler failures
// are reported to the peer as structured errors and never stop the loop.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	lis = netutil.LimitListener(lis, MaxConcurrentConns)
	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	s.logger.Info("agent listening", "addr", lis.Addr())
	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	req, err := wire.DecodeRequest(conn)
	if err != nil {
		s.logger.Warn("malformed request", "error", err)
		_ = wire.EncodeResponse(conn, wire.NewError(wire.ID{}, wire.CodeParseError, err.Error()))
		return
	}

	// One in-flight request per id: a client reusing an id before the first
	// call answered is rejected rather than interleaved.
	if !s.beginRequest(req.ID) {
		s.logger.Warn("duplicate in-flight id", "id", req.ID)
		msg := fmt.Sprintf("request id %q already in flight", req.ID)
		_ = wire.EncodeResponse(conn, wire.NewError(req.ID, wire.CodeInvalidRequest, msg))
		return
	}
	defer s.endRequest(req.ID)

	res := s.dispatch(ctx, req)
	if err := wire.EncodeResponse(conn, res); err != nil {
		s.logger.Warn("write response failed", "id", req.ID, "error", err)
	}
}

func (s *Server) beginRequest(id wire.ID) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Server) endRequest(id wire.ID) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

func (s *Server) dispatch(ctx context.Context, req wire.Request) wire.Response {
	handler, ok := s.handlers[req.Method]
	if !ok {
		return wire.NewError(req.ID, wire.CodeMethodNotFound, "unknown method "+req.Method)
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		code := errorCode(err)
		s.logger.Warn("request failed", "id", req.ID, "method", req.Method, "code", code, "error", err)
		return wire.NewError(req.ID, code, err.Error())
	}

	res, err := wire.NewResult(req.ID, result)
	if err != nil {
		return wire.NewError(req.ID, wire.CodeInternalError, err.Error())
	}
	return res
}

func (s *Server) handleStart(_ context.Context, raw json.RawMessage) (any, error) {
	var params wire.StartParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams(err)
	}

	pid, err := s.registry.Start(params.Command, params.Env)
	if err != nil {
		return nil, err
	}
	return wire.StartResult{Pid: pid}, nil
}

func (s *Server) handleKill(ctx context.Context, raw json.RawMessage) (any, error) {
	var params wire.KillParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams(err)
	}

	out, err := s.registry.Kill(ctx, params.Pid)
	if err != nil {
		return nil, err
	}
	return wire.KillResult{Stdout: out.Stdout, Stderr: out.Stderr}, nil
}

type paramsError struct{ err error }

func (e paramsError) Error() string { return "invalid params: " + e.err.Error() }
func (e paramsError) Unwrap() error { return e.err }

func invalidParams(err error) error { return paramsError{err: err} }

func errorCode(err error) int {
	var pErr paramsError
	switch {
	case errors.Is(err, jobs.ErrUnknownPid):
		return wire.CodeUnknownPid
	case errors.Is(err, jobs.ErrSpawn):
		return wire.CodeSpawnFailure
	case errors.Is(err, jobs.ErrEmptyCommand):
		return wire.CodeInvalidParams
	case errors.Is(err, jobs.ErrKillTimeout):
		return wire.CodeKillTimeout
	case errors.As(err, &pErr):
		return wire.CodeInvalidParams
	default:
		return wire.CodeInternalError
	}
}
