//go:build unix

package vfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// OpenPipe creates a named pipe for name in the writable game directory,
// replacing any existing file, and opens it for reading and writing.
func (fs *FS) OpenPipe(name string) (Handle, error) {
	fs.mustInit("open pipe " + name)
	p, err := fs.homeGamePath(name)
	if err != nil {
		return 0, err
	}
	fs.checkMutable("open pipe", p)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return 0, err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}
	if err := unix.Mkfifo(p, 0600); err != nil {
		return 0, fmt.Errorf("mkfifo %s: %w", p, err)
	}
	// O_RDWR keeps the open from blocking until a writer shows up.
	f, err := os.OpenFile(p, os.O_RDWR, 0600)
	if err != nil {
		return 0, err
	}
	h := fs.handles.OpenDirect(name, f, true, false)
	fs.metrics.OpenHandles.Set(float64(fs.handles.Active()))
	fs.logger.Debug().Str("name", name).Str("path", p).Msg("opened pipe")
	return h, nil
}
