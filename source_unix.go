//go:build unix

package swiftstream

import (
	"errors"
	"io"
	"math"

	"golang.org/x/sys/unix"
)

// descriptorReader reads a caller-owned descriptor with raw read(2) calls.
// It never closes the descriptor.
type descriptorReader struct {
	fd int
}

func newDescriptorReader(fd uintptr) (*descriptorReader, error) {
	if fd > math.MaxInt32 {
		return nil, InvalidHandleError(fd, unix.EBADF)
	}
	if _, err := unix.FcntlInt(fd, unix.F_GETFD, 0); err != nil {
		return nil, InvalidHandleError(fd, err)
	}
	return &descriptorReader{fd: int(fd)}, nil
}

func (d *descriptorReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(d.fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			// Non-blocking descriptor: wait until it is readable.
			if perr := d.waitReadable(); perr != nil {
				return 0, perr
			}
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

func (d *descriptorReader) waitReadable() error {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
}

func (d *descriptorReader) Seek(offset int64, whence int) (int64, error) {
	return unix.Seek(d.fd, offset, whence)
}

// checkSeekable reports whether the descriptor refers to a seekable object.
func (d *descriptorReader) checkSeekable() error {
	_, err := unix.Seek(d.fd, 0, io.SeekCurrent)
	return err
}
