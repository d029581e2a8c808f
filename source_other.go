//go:build !unix

package swiftstream

import (
	"errors"
	"fmt"
)

var errDescriptorsUnsupported = errors.New("raw descriptors are only supported on unix")

type descriptorReader struct{}

func newDescriptorReader(fd uintptr) (*descriptorReader, error) {
	return nil, UnsupportedSourceError(fmt.Sprintf("fd(%d)", fd), errDescriptorsUnsupported.Error())
}

func (d *descriptorReader) Read([]byte) (int, error) { return 0, errDescriptorsUnsupported }
func (d *descriptorReader) Seek(int64, int) (int64, error) { return 0, errDescriptorsUnsupported }
func (d *descriptorReader) checkSeekable() error { return errDescriptorsUnsupported }
