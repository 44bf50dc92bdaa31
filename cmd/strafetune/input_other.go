//go:build !linux

package main

import (
	"context"
	"errors"
	"os"
)

var errEvdevUnsupported = errors.New("evdev key input is only available on Linux")

func openInputDevices(paths []string) ([]*os.File, error) {
	return nil, errEvdevUnsupported
}

func readKeysEpoll(ctx context.Context, files []*os.File, keys *KeyState) error {
	return errEvdevUnsupported
}
