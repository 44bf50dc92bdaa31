//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// epollWaitMS bounds each epoll_wait so ctx cancellation is noticed.
const epollWaitMS = 100

// keyboardGlobs locate keyboards when no input devices are configured.
var keyboardGlobs = []string{
	"/dev/input/by-id/*-event-kbd",
	"/dev/input/by-path/*-event-kbd",
}

// detectKeyboards returns the evdev nodes of attached keyboards.
func detectKeyboards() []string {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range keyboardGlobs {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			real, err := filepath.EvalSymlinks(m)
			if err != nil {
				real = m
			}
			if seen[real] {
				continue
			}
			seen[real] = true
			out = append(out, real)
		}
	}
	return out
}

// openInputDevices opens the configured evdev nodes, or every detected
// keyboard when paths is empty.
func openInputDevices(paths []string) ([]*os.File, error) {
	if len(paths) == 0 {
		paths = detectKeyboards()
	}
	if len(paths) == 0 {
		return nil, errors.New("no keyboard input devices found (set input.devices)")
	}

	var files []*os.File
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			for _, opened := range files {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("open input device %s: %w", p, err)
		}
		files = append(files, f)
	}
	return files, nil
}

// readKeysEpoll feeds key events from files into keys until ctx is canceled
// or a device fails.
func readKeysEpoll(ctx context.Context, files []*os.File, keys *KeyState) error {
	if len(files) == 0 {
		return errors.New("no input devices provided")
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	fdToFile := make(map[int]*os.File)
	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			return fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
		}
	}

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	// Drain several records per wakeup; evdev always returns whole events.
	buf := make([]byte, inputEventSize*64)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.EpollWait(epfd, epollEvents, epollWaitMS)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				return fmt.Errorf("device error/hangup: %s (fd=%d)", f.Name(), fd)
			}

			nr, err := f.Read(buf)
			if err != nil {
				return fmt.Errorf("read from %s: %w", f.Name(), err)
			}
			for off := 0; off+inputEventSize <= nr; off += inputEventSize {
				if ev, ok := decodeInputEvent(buf[off : off+inputEventSize]); ok {
					keys.Apply(ev)
				}
			}
		}
	}
}
