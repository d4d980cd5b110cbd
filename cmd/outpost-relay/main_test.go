//go:build unix

package main

import (
	"bytes"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/outpost-run/outpost/internal/wire"
)

// fakeAgent answers one connection with the given responder.
func fakeAgent(t *testing.T, respond func(req wire.Request) wire.Response) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "agent.sock")
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { lis.Close() })

	go func() {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req, err := wire.DecodeRequest(conn)
		if err != nil {
			return
		}
		_ = wire.EncodeResponse(conn, respond(req))
	}()
	return socketPath
}

func encodeRequest(t *testing.T, req wire.Request) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := wire.EncodeRequest(&buf, req); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	return &buf
}

func TestRelayForwardsOneCall(t *testing.T) {
	socketPath := fakeAgent(t, func(req wire.Request) wire.Response {
		if req.Method != wire.MethodStart {
			t.Errorf("method = %q", req.Method)
		}
		res, err := wire.NewResult(req.ID, wire.StartResult{Pid: 4242})
		if err != nil {
			t.Errorf("NewResult: %v", err)
		}
		return res
	})

	req, err := wire.NewRequest(wire.StringID("req-1"), wire.MethodStart, wire.StartParams{Command: "sleep 60"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	var out bytes.Buffer
	if code := relay(encodeRequest(t, req), &out, socketPath); code != 0 {
		t.Fatalf("exit code = %d, output %q", code, out.String())
	}

	res, err := wire.DecodeResponse(&out)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.ID != wire.StringID("req-1") || res.Error != nil {
		t.Fatalf("response = %+v", res)
	}
	if !strings.Contains(string(res.Result), "4242") {
		t.Fatalf("result = %s", res.Result)
	}
}

func TestRelayUnreachableAgent(t *testing.T) {
	req, err := wire.NewRequest(wire.StringID("req-2"), wire.MethodKill, wire.KillParams{Pid: 99})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	missing := filepath.Join(t.TempDir(), "nope.sock")
	var out bytes.Buffer
	if code := relay(encodeRequest(t, req), &out, missing); code != 1 {
		t.Fatalf("exit code = %d", code)
	}

	res, err := wire.DecodeResponse(&out)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Error == nil || res.Error.Code != wire.CodeAgentUnreachable {
		t.Fatalf("error = %+v", res.Error)
	}
	if res.ID != wire.StringID("req-2") {
		t.Fatalf("error response lost request id: %q", res.ID)
	}
}

func TestRelayMalformedInput(t *testing.T) {
	var out bytes.Buffer
	if code := relay(strings.NewReader("not json"), &out, "/tmp/unused.sock"); code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	res, err := wire.DecodeResponse(&out)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Error == nil || res.Error.Code != wire.CodeParseError {
		t.Fatalf("error = %+v", res.Error)
	}
}

func TestRelayRejectsMismatchedResponseID(t *testing.T) {
	socketPath := fakeAgent(t, func(req wire.Request) wire.Response {
		res, _ := wire.NewResult(wire.StringID("some-other-id"), wire.StartResult{Pid: 1})
		return res
	})

	req, err := wire.NewRequest(wire.StringID("req-3"), wire.MethodStart, wire.StartParams{Command: "true"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	var out bytes.Buffer
	if code := relay(encodeRequest(t, req), &out, socketPath); code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	res, err := wire.DecodeResponse(&out)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Error == nil || res.Error.Code != wire.CodeInternalError {
		t.Fatalf("error = %+v", res.Error)
	}
}
