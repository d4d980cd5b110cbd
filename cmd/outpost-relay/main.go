// outpost-relay bridges one host call to the in-sandbox agent. The host can
// only "run a command to completion" inside the sandbox, so the relay reads
// exactly one request envelope from stdin, forwards it over the agent's
// local socket, writes the response envelope to stdout, and exits. It holds
// no state across invocations.
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/outpost-run/outpost/internal/endpoint"
	"github.com/outpost-run/outpost/internal/wire"
)

const dialTimeout = 5 * time.Second

func main() {
	raw := ""
	if len(os.Args) > 1 {
		raw = os.Args[1]
	}
	os.Exit(relay(os.Stdin, os.Stdout, raw))
}

func relay(in io.Reader, out io.Writer, rawEndpoint string) int {
	req, err := wire.DecodeRequest(in)
	if err != nil {
		_ = wire.EncodeResponse(out, wire.NewError(wire.ID{}, wire.CodeParseError, err.Error()))
		return 2
	}

	ep, err := endpoint.Resolve(rawEndpoint)
	if err != nil {
		_ = wire.EncodeResponse(out, wire.NewError(req.ID, wire.CodeInvalidRequest, err.Error()))
		return 2
	}

	conn, err := dial(ep)
	if err != nil {
		// The agent may not be running yet, or the socket path may be
		// wrong. Either way the host needs a distinguishable error, not
		// a hang or a bare exit.
		msg := fmt.Sprintf("agent unreachable at %s: %v", ep.String(), err)
		_ = wire.EncodeResponse(out, wire.NewError(req.ID, wire.CodeAgentUnreachable, msg))
		return 1
	}
	defer conn.Close()

	if err := wire.EncodeRequest(conn, req); err != nil {
		_ = wire.EncodeResponse(out, wire.NewError(req.ID, wire.CodeAgentUnreachable, "send request: "+err.Error()))
		return 1
	}

	// No read deadline: a kill call legitimately blocks for the grace
	// period plus escalation, and the host side carries its own timeout.
	res, err := wire.DecodeResponse(conn)
	if err != nil {
		_ = wire.EncodeResponse(out, wire.NewError(req.ID, wire.CodeInternalError, "read response: "+err.Error()))
		return 1
	}
	if res.ID != req.ID {
		_ = wire.EncodeResponse(out, wire.NewError(req.ID, wire.CodeInternalError,
			fmt.Sprintf("response id %q does not match request id %q", res.ID, req.ID)))
		return 1
	}

	if err := wire.EncodeResponse(out, res); err != nil {
		return 1
	}
	return 0
}

func dial(ep endpoint.Endpoint) (net.Conn, error) {
	switch ep.Scheme {
	case "unix":
		return net.DialTimeout("unix", ep.Address, dialTimeout)
	case "vsock":
		return dialVsock(ep.Port)
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", ep.Scheme)
	}
}
