//go:build linux

// File: internal/transport/socket_linux.go
// License: Apache-2.0
//
// Linux socket syscalls: listen, accept4, read/write with EINTR retry.

package transport

import (
	"fmt"
	"net"

	"github.com/wordrush/wsreactor/api"
	"golang.org/x/sys/unix"
)

var errAgain error = unix.EAGAIN

// Listen creates a non-blocking listening socket bound to address:port with
// SO_REUSEADDR. Port 0 picks an ephemeral port, reported by Port().
func Listen(address string, port, backlog int) (*Socket, error) {
	sa, family, err := sockaddr(address, port)
	if err != nil {
		return nil, err
	}
	where := net.JoinHostPort(address, fmt.Sprint(port))
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, api.SyscallError(api.ErrCodeBind, "socket "+where, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, api.SyscallError(api.ErrCodeBind, "setsockopt "+where, err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, api.SyscallError(api.ErrCodeBind, "bind "+where, err)
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, api.SyscallError(api.ErrCodeListen, "listen "+where, err)
	}
	bound := port
	if local, err := unix.Getsockname(fd); err == nil {
		_, bound = splitSockaddr(local)
	}
	return newSocket(fd, "", bound), nil
}

// Accept takes one pending connection. It returns api.ErrWouldBlock when
// the backlog is empty.
func (s *Socket) Accept() (*Socket, error) {
	fd := s.Fd()
	if fd < 0 {
		return nil, api.ErrClosed
	}
	for {
		nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			host, port := splitSockaddr(sa)
			return newSocket(nfd, host, port), nil
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			return nil, api.ErrWouldBlock
		default:
			return nil, api.SyscallError(api.ErrCodeAccept, "accept", err)
		}
	}
}

func sockaddr(address string, port int) (unix.Sockaddr, int, error) {
	if address == "" {
		address = "0.0.0.0"
	}
	ip := net.ParseIP(address)
	if ip == nil {
		addr, err := net.ResolveIPAddr("ip", address)
		if err != nil {
			return nil, 0, api.Errorf(api.ErrCodeBind, "invalid address %q", address)
		}
		ip = addr.IP
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa, unix.AF_INET6, nil
}

func splitSockaddr(sa unix.Sockaddr) (string, int) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(a.Addr[:]).String(), a.Port
	case *unix.SockaddrInet6:
		return net.IP(a.Addr[:]).String(), a.Port
	default:
		return "", 0
	}
}

func setNonblock(fd int) error { return unix.SetNonblock(fd, true) }

func sysRead(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func sysWrite(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func sysShutdownRead(fd int) error { return unix.Shutdown(fd, unix.SHUT_RD) }

func sysClose(fd int) error { return unix.Close(fd) }
