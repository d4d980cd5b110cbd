//go:build !linux

package main

import (
	"fmt"
	"net"
	"runtime"
)

func dialVsock(port uint32) (net.Conn, error) {
	return nil, fmt.Errorf("vsock endpoints are only supported on linux (current: %s)", runtime.GOOS)
}
