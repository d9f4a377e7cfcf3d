//go:build !linux

// File: internal/transport/socket_other.go
// License: Apache-2.0
//
// Non-Linux builds compile but cannot open sockets.

package transport

import "github.com/wordrush/wsreactor/api"

var errAgain error = api.ErrWouldBlock

// Listen is only implemented on Linux.
func Listen(address string, port, backlog int) (*Socket, error) {
	return nil, api.ErrNotSupported
}

// Accept is only implemented on Linux.
func (s *Socket) Accept() (*Socket, error) { return nil, api.ErrNotSupported }

func setNonblock(fd int) error { return api.ErrNotSupported }
func sysRead(fd int, p []byte) (int, error) { return 0, api.ErrNotSupported }
func sysWrite(fd int, p []byte) (int, error) { return 0, api.ErrNotSupported }
func sysShutdownRead(fd int) error { return api.ErrNotSupported }
func sysClose(fd int) error { return api.ErrNotSupported }
