//go:build linux

// File: reactor/epoll_linux.go
// License: Apache-2.0
//
// Linux epoll(7) poller. Tokens travel in the Fd and Pad words of the
// event so they are independent of descriptor numbers.

package reactor

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// wakeToken is reserved for the internal eventfd.
const wakeToken = ^uint64(0)

type epollPoller struct {
	epfd   int
	wakeFd int
	raw    []unix.EpollEvent
}

// NewPoller creates an epoll instance with an attached wake eventfd.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	p := &epollPoller{epfd: epfd, wakeFd: wfd}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET}
	setToken(&ev, wakeToken)
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wfd, &ev); err != nil {
		unix.Close(wfd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return p, nil
}

func setToken(ev *unix.EpollEvent, token uint64) {
	ev.Fd = int32(uint32(token))
	ev.Pad = int32(uint32(token >> 32))
}

func getToken(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

func (p *epollPoller) Add(fd int, token uint64, interest Interest) error {
	if token == wakeToken {
		return fmt.Errorf("epoll ctl add: token %d is reserved", token)
	}
	var ev unix.EpollEvent
	switch interest {
	case InterestAccept:
		ev.Events = unix.EPOLLIN | unix.EPOLLET
	default:
		ev.Events = unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET
	}
	setToken(&ev, token)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

func (p *epollPoller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

func (p *epollPoller) Wait(events []Event, timeout time.Duration) (int, error) {
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	raw := p.raw[:len(events)]
	ms := -1
	if timeout >= 0 {
		ms = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, raw, ms)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		token := getToken(&raw[i])
		if token == wakeToken {
			p.drainWake()
			continue
		}
		events[out] = Event{Token: token, Type: translate(raw[i].Events)}
		out++
	}
	return out, nil
}

func translate(e uint32) FDEventType {
	var t FDEventType
	if e&unix.EPOLLIN != 0 {
		t |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		t |= EventWrite
	}
	if e&unix.EPOLLRDHUP != 0 {
		t |= EventHangup
	}
	if e&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		t |= EventError
	}
	return t
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakeFd, buf[:]); err != unix.EINTR {
			return
		}
	}
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(p.wakeFd, buf[:])
		switch err {
		case unix.EINTR:
			continue
		case nil, unix.EAGAIN:
			// EAGAIN means the counter is saturated; a wakeup is already pending.
			return nil
		default:
			return fmt.Errorf("eventfd write: %w", err)
		}
	}
}

func (p *epollPoller) Close() error {
	unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}
