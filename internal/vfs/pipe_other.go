//go:build !unix

package vfs

import "github.com/sunumi/pakfs/internal/fserr"

// OpenPipe is not available on this platform.
func (fs *FS) OpenPipe(name string) (Handle, error) {
	fs.mustInit("open pipe " + name)
	return 0, fserr.ErrUnsupported
}
