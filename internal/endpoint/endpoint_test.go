package endpoint

import (
	"strings"
	"testing"
)

func TestResolveDefaults(t *testing.T) {
	t.Setenv(EnvVar, "")

	ep, err := Resolve("")
	if err != nil {
		t.Fatalf("resolve empty endpoint: %v", err)
	}
	if ep.Scheme != "unix" || ep.Address != DefaultSocketPath {
		t.Fatalf("expected default unix endpoint, got %+v", ep)
	}
}

func TestResolveEnvOverride(t *testing.T) {
	t.Setenv(EnvVar, "/tmp/custom/agent.sock")

	ep, err := Resolve("")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ep.Address != "/tmp/custom/agent.sock" {
		t.Fatalf("expected env override, got %+v", ep)
	}
}

func TestResolveForms(t *testing.T) {
	tests := []struct {
		in     string
		scheme string
		addr   string
		port   uint32
	}{
		{in: "unix:///run/outpost/agent.sock", scheme: "unix", addr: "/run/outpost/agent.sock"},
		{in: "/var/run/agent.sock", scheme: "unix", addr: "/var/run/agent.sock"},
		{in: "vsock://10700", scheme: "vsock", port: 10700},
	}

	for _, tc := range tests {
		ep, err := Resolve(tc.in)
		if err != nil {
			t.Fatalf("resolve %q: %v", tc.in, err)
		}
		if ep.Scheme != tc.scheme || ep.Address != tc.addr || ep.Port != tc.port {
			t.Fatalf("resolve %q => %+v", tc.in, ep)
		}
	}
}

func TestResolveRejectsUnsupported(t *testing.T) {
	for _, in := range []string{"http://localhost:8080", "unix://", "vsock://notaport", "vsock://0", "relative/path"} {
		if _, err := Resolve(in); err == nil {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
}

func TestEndpointString(t *testing.T) {
	ep := Endpoint{Scheme: "vsock", Port: 10700}
	if got := ep.String(); got != "vsock://10700" {
		t.Fatalf("String() => %q", got)
	}
	ep = Endpoint{Scheme: "unix", Address: "/run/outpost/agent.sock"}
	if got := ep.String(); !strings.HasPrefix(got, "unix://") {
		t.Fatalf("String() => %q", got)
	}
}
