//go:build unix

package agentserver

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/outpost-run/outpost/internal/jobs"
	"github.com/outpost-run/outpost/internal/wire"
)

func startTestServer(t *testing.T) string {
	t.Helper()

	sock := filepath.Join(t.TempDir(), "agent.sock")
	lis, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen %s: %v", sock, err)
	}

	logger := log.NewWithOptions(io.Discard, log.Options{})
	registry := jobs.NewRegistry(logger, jobs.WithGracePeriod(time.Second))
	server := New(logger, registry)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		if err := server.Serve(ctx, lis); err != nil {
			t.Errorf("Serve: %v", err)
		}
	}()
	return sock
}

func call(t *testing.T, sock string, req wire.Request) wire.Response {
	t.Helper()

	conn, err := net.DialTimeout("unix", sock, time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", sock, err)
	}
	defer conn.Close()

	if err := wire.EncodeRequest(conn, req); err != nil {
		t.Fatalf("encode request: %v", err)
	}
	res, err := wire.DecodeResponse(conn)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res
}

func mustRequest(t *testing.T, id, method string, params any) wire.Request {
	t.Helper()
	req, err := wire.NewRequest(wire.StringID(id), method, params)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req
}

func TestStartThenKillOverSocket(t *testing.T) {
	sock := startTestServer(t)

	res := call(t, sock, mustRequest(t, "req-1", wire.MethodStart, wire.StartParams{Command: "echo over-the-wire"}))
	if res.Error != nil {
		t.Fatalf("start returned error: %+v", res.Error)
	}
	if res.ID != wire.StringID("req-1") {
		t.Fatalf("response id mismatch: %q", res.ID)
	}

	var started wire.StartResult
	decodeResult(t, res, &started)
	if started.Pid <= 0 {
		t.Fatalf("expected positive pid, got %d", started.Pid)
	}

	res = call(t, sock, mustRequest(t, "req-2", wire.MethodKill, wire.KillParams{Pid: started.Pid}))
	if res.Error != nil {
		t.Fatalf("kill returned error: %+v", res.Error)
	}
	var killed wire.KillResult
	decodeResult(t, res, &killed)
	if !strings.Contains(killed.Stdout, "over-the-wire") {
		t.Fatalf("expected buffered stdout, got %q", killed.Stdout)
	}
}

func TestUnknownMethodIsStructuredError(t *testing.T) {
	sock := startTestServer(t)

	res := call(t, sock, mustRequest(t, "req-3", "exec_remote_status", nil))
	if res.Error == nil || res.Error.Code != wire.CodeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", res)
	}

	// The listener must survive the failure.
	res = call(t, sock, mustRequest(t, "req-4", wire.MethodKill, wire.KillParams{Pid: 9999999}))
	if res.Error == nil || res.Error.Code != wire.CodeUnknownPid {
		t.Fatalf("expected unknown-pid error, got %+v", res)
	}
}

func TestSpawnFailureCode(t *testing.T) {
	sock := startTestServer(t)

	res := call(t, sock, mustRequest(t, "req-5", wire.MethodStart, wire.StartParams{Command: "does-not-exist-9201"}))
	if res.Error == nil || res.Error.Code != wire.CodeSpawnFailure {
		t.Fatalf("expected spawn-failure error, got %+v", res)
	}
}

func TestMalformedPayloadGetsParseError(t *testing.T) {
	sock := startTestServer(t)

	conn, err := net.DialTimeout("unix", sock, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("this is not an envelope\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := wire.DecodeResponse(conn)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Error == nil || res.Error.Code != wire.CodeParseError {
		t.Fatalf("expected parse error, got %+v", res)
	}
}

func TestDuplicateInFlightIDIsRejected(t *testing.T) {
	sock := startTestServer(t)

	res := call(t, sock, mustRequest(t, "req-6", wire.MethodStart, wire.StartParams{
		Command: `trap "" TERM; while :; do sleep 0.05; done`,
	}))
	if res.Error != nil {
		t.Fatalf("start returned error: %+v", res.Error)
	}
	var started wire.StartResult
	decodeResult(t, res, &started)

	// The kill blocks through the grace period because the job ignores
	// SIGTERM. Reusing its id while it is in flight must be rejected, not
	// interleaved with it.
	killReq := mustRequest(t, "req-7", wire.MethodKill, wire.KillParams{Pid: started.Pid})
	type outcome struct {
		res wire.Response
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		conn, err := net.DialTimeout("unix", sock, time.Second)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		defer conn.Close()
		if err := wire.EncodeRequest(conn, killReq); err != nil {
			done <- outcome{err: err}
			return
		}
		res, err := wire.DecodeResponse(conn)
		done <- outcome{res: res, err: err}
	}()
	time.Sleep(200 * time.Millisecond)

	dup := call(t, sock, mustRequest(t, "req-7", wire.MethodKill, wire.KillParams{Pid: started.Pid}))
	if dup.Error == nil || dup.Error.Code != wire.CodeInvalidRequest {
		t.Fatalf("expected invalid-request for duplicate in-flight id, got %+v", dup)
	}
	if dup.ID != wire.StringID("req-7") {
		t.Fatalf("rejection must echo the id: %q", dup.ID)
	}

	first := <-done
	if first.err != nil {
		t.Fatalf("original kill call: %v", first.err)
	}
	if first.res.Error != nil {
		t.Fatalf("original kill failed: %+v", first.res.Error)
	}

	// The id is free again once the first call finishes.
	res = call(t, sock, mustRequest(t, "req-7", wire.MethodKill, wire.KillParams{Pid: started.Pid}))
	if res.Error == nil || res.Error.Code != wire.CodeUnknownPid {
		t.Fatalf("expected unknown-pid after collection, got %+v", res)
	}
}

func decodeResult(t *testing.T, res wire.Response, out any) {
	t.Helper()
	if err := json.Unmarshal(res.Result, out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
}
