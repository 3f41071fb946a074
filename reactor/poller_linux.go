//go:build linux
// +build linux

// File: reactor/poller_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based poller.

package reactor

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-loopback/api"
)

// epollPoller is a level-triggered epoll backend.
type epollPoller struct {
	epfd int
	raw  []unix.EpollEvent
}

// NewPoller constructs the platform poller for Linux.
func NewPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollPoller{epfd: epfd}, nil
}

// Add registers fd with epoll. Level-triggered on purpose: ALSA descriptors
// keep signalling until the condition is consumed.
func (p *epollPoller) Add(fd int, mask api.EventMask) error {
	ev := unix.EpollEvent{Events: toEpoll(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add fd %d: %w", fd, err)
	}
	return nil
}

// Remove deletes fd from the interest list.
func (p *epollPoller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Wait waits for readiness for at most timeout.
func (p *epollPoller) Wait(timeout time.Duration, events []api.PollEvent) (int, error) {
	if len(events) == 0 {
		return 0, api.ErrInvalidArgument
	}
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	raw := p.raw[:len(events)]

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, raw, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		events[i] = api.PollEvent{Fd: int(raw[i].Fd), Mask: fromEpoll(raw[i].Events)}
	}
	return n, nil
}

// Close closes the epoll instance.
func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}

func toEpoll(mask api.EventMask) uint32 {
	var ev uint32
	if mask&api.EventReadable != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if mask&api.EventWritable != 0 {
		ev |= unix.EPOLLOUT
	}
	// EPOLLERR and EPOLLHUP are always reported by the kernel.
	return ev
}

func fromEpoll(ev uint32) api.EventMask {
	var mask api.EventMask
	if ev&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		mask |= api.EventReadable
	}
	if ev&unix.EPOLLOUT != 0 {
		mask |= api.EventWritable
	}
	if ev&unix.EPOLLERR != 0 {
		mask |= api.EventError
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		mask |= api.EventHangup
	}
	return mask
}
