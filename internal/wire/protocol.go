// Package wire defines the request/response envelope exchanged between the
// host and the in-sandbox agent. The format is JSON-RPC 2.0, one object per
// call, carried over whatever byte channel connects the two sides (relay
// stdin/stdout on the host leg, a local socket on the sandbox leg).
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const Version = "2.0"

// Methods understood by the agent. The protocol surface is deliberately
// two calls: start a supervised process, kill it and collect its output.
const (
	MethodStart = "exec_remote_start"
	MethodKill  = "exec_remote_kill"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application error codes. These must stay distinguishable so the host can
// tell a sandbox that is unusable apart from one reporting a clean
// application-level failure.
const (
	// CodeSpawnFailure: the command could not be launched at all.
	CodeSpawnFailure = -32000
	// CodeUnknownPid: a kill referenced a pid the registry has no record of.
	CodeUnknownPid = -32001
	// CodeAgentUnreachable: the relay could not reach the agent socket.
	CodeAgentUnreachable = -32002
	// CodeKillTimeout: the process survived the forceful signal wait.
	CodeKillTimeout = -32003
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the structured error object carried in a response envelope.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type StartParams struct {
	Command string            `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
}

type StartResult struct {
	Pid int `json:"pid"`
}

type KillParams struct {
	Pid int `json:"pid"`
}

type KillResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// NewRequest builds a request envelope with marshalled params.
func NewRequest(id ID, method string, params any) (Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Request{}, fmt.Errorf("marshal %s params: %w", method, err)
	}
	return Request{JSONRPC: Version, Method: method, Params: raw, ID: id}, nil
}

// NewResult builds a success response correlated with the given request id.
func NewResult(id ID, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("marshal result: %w", err)
	}
	return Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError builds an error response correlated with the given request id.
func NewError(id ID, code int, message string) Response {
	return Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

func DecodeRequest(r io.Reader) (Request, error) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return Request{}, err
	}
	if req.JSONRPC != Version {
		return Request{}, fmt.Errorf("unsupported protocol version %q", req.JSONRPC)
	}
	if strings.TrimSpace(req.Method) == "" {
		return Request{}, errors.New("missing method")
	}
	if req.ID.IsZero() {
		return Request{}, errors.New("missing request id")
	}
	return req, nil
}

func EncodeRequest(w io.Writer, req Request) error {
	return json.NewEncoder(w).Encode(req)
}

func DecodeResponse(r io.Reader) (Response, error) {
	var res Response
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return Response{}, err
	}
	if res.JSONRPC != Version {
		return Response{}, fmt.Errorf("unsupported protocol version %q", res.JSONRPC)
	}
	if res.Error == nil && res.Result == nil {
		return Response{}, errors.New("response carries neither result nor error")
	}
	if res.Error != nil && res.Result != nil {
		return Response{}, errors.New("response carries both result and error")
	}
	return res, nil
}

func EncodeResponse(w io.Writer, res Response) error {
	return json.NewEncoder(w).Encode(res)
}
