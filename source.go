package swiftstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// SourceKind tags the concrete byte stream behind a Source.
type SourceKind int

const (
	InMemoryBytes SourceKind = iota
	OwnedFile
	BorrowedDescriptor
	CompressedFile
	CallbackStream
)

func (k SourceKind) String() string {
	switch k {
	case InMemoryBytes:
		return "memory"
	case OwnedFile:
		return "file"
	case BorrowedDescriptor:
		return "descriptor"
	case CompressedFile:
		return "compressed"
	case CallbackStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Ownership says whether an engine may close the OS resource behind a Source.
type Ownership int

const (
	// Owned resources are closed when the engine is disposed.
	Owned Ownership = iota
	// Borrowed resources belong to the caller and are never closed.
	Borrowed
)

func (o Ownership) String() string {
	if o == Borrowed {
		return "borrowed"
	}
	return "owned"
}

// Input describes where bytes come from. Values are created with Bytes,
// String, Path, Descriptor, File and Stream.
type Input interface {
	describe() string
}

type bytesInput struct{ data []byte }
type pathInput struct{ path string }
type descriptorInput struct {
	fd   uintptr
	file *os.File
}
type streamInput struct{ r io.Reader }

func (in bytesInput) describe() string      { return fmt.Sprintf("memory(%d bytes)", len(in.data)) }
func (in pathInput) describe() string       { return in.path }
func (in descriptorInput) describe() string { return fmt.Sprintf("fd(%d)", in.fd) }
func (in streamInput) describe() string     { return fmt.Sprintf("stream(%T)", in.r) }

// Bytes reads from an in-memory buffer. The buffer must not be modified while
// an engine reads it.
func Bytes(data []byte) Input { return bytesInput{data: data} }

// String reads from an in-memory string.
func String(s string) Input { return bytesInput{data: []byte(s)} }

// Path opens a file. Compression is detected from the file suffix.
func Path(path string) Input { return pathInput{path: path} }

// Descriptor reads from an OS file descriptor owned by the caller. The engine
// never closes it.
func Descriptor(fd uintptr) Input { return descriptorInput{fd: fd} }

// File reads from the descriptor of f without taking ownership of it. f is
// kept reachable while the engine lives so its finalizer cannot close the
// descriptor underneath the reader.
func File(f *os.File) Input {
	if f == nil {
		return descriptorInput{fd: ^uintptr(0)}
	}
	return descriptorInput{fd: f.Fd(), file: f}
}

// Stream reads from an arbitrary reader. Such readers may be confined to the
// goroutine that created them, so they are always driven inline and never
// closed by the engine.
func Stream(r io.Reader) Input { return streamInput{r: r} }

// Source is a resolved byte stream plus the metadata the engine needs to
// schedule and dispose of it.
type Source struct {
	Kind         SourceKind
	Name         string
	Ownership    Ownership
	Transferable bool
	Compression  Compression

	r         io.Reader
	closers   []io.Closer
	keepAlive any
	closed    bool
}

// Read implements io.Reader.
func (s *Source) Read(p []byte) (int, error) {
	if s.closed {
		return 0, os.ErrClosed
	}
	return s.r.Read(p)
}

// Seek implements io.Seeker when the underlying stream supports it.
func (s *Source) Seek(offset int64, whence int) (int64, error) {
	seeker, ok := s.r.(io.Seeker)
	if !ok {
		return 0, UnsupportedSourceError(s.Name, "source is not seekable")
	}
	return seeker.Seek(offset, whence)
}

// Close releases the Source. Owned resources are closed in reverse order of
// acquisition; for Borrowed sources Close only marks the Source unusable.
// Close is idempotent.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.keepAlive = nil
	if s.Ownership == Borrowed {
		return nil
	}

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Resolver classifies Inputs into Sources.
type Resolver struct {
	// Seekable requests a Source that supports Seek. Compressed files are
	// decompressed fully into memory to satisfy it; streams and descriptors
	// that cannot seek fail with SOURCE_UNSUPPORTED.
	Seekable bool
}

// Resolve opens in and returns its Source.
func (r Resolver) Resolve(in Input) (*Source, error) {
	switch in := in.(type) {
	case bytesInput:
		return &Source{
			Kind:         InMemoryBytes,
			Name:         in.describe(),
			Ownership:    Owned,
			Transferable: true,
			r:            bytes.NewReader(in.data),
		}, nil
	case pathInput:
		return r.resolvePath(in.path)
	case descriptorInput:
		return r.resolveDescriptor(in)
	case streamInput:
		return r.resolveStream(in)
	case nil:
		return nil, UnsupportedSourceError("input", "input is nil")
	default:
		return nil, UnsupportedSourceError(in.describe(), "unknown input kind")
	}
}

func (r Resolver) resolvePath(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, SourceOpenError(path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, SourceOpenError(path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, SourceOpenError(path, errors.New("is a directory"))
	}

	c := compressionForPath(path)
	if c == CompressionNone {
		return &Source{
			Kind:         OwnedFile,
			Name:         path,
			Ownership:    Owned,
			Transferable: true,
			r:            f,
			closers:      []io.Closer{f},
		}, nil
	}

	dec, decCloser, err := newDecompressor(c, f)
	if err != nil {
		_ = f.Close()
		return nil, SourceOpenError(path, err)
	}
	src := &Source{
		Kind:         CompressedFile,
		Name:         path,
		Ownership:    Owned,
		Transferable: true,
		Compression:  c,
		r:            dec,
		closers:      []io.Closer{f},
	}
	if decCloser != nil {
		src.closers = append(src.closers, decCloser)
	}
	if r.Seekable {
		if err := src.materialize(); err != nil {
			return nil, err
		}
	}
	return src, nil
}

// materialize replaces a streaming decompressor with the fully decoded bytes.
func (s *Source) materialize() error {
	data, err := io.ReadAll(s.r)
	closeErr := s.Close()
	if err != nil {
		return SourceOpenError(s.Name, err)
	}
	if closeErr != nil {
		return SourceOpenError(s.Name, closeErr)
	}
	s.r = bytes.NewReader(data)
	s.closed = false
	return nil
}

func (r Resolver) resolveDescriptor(in descriptorInput) (*Source, error) {
	fr, err := newDescriptorReader(in.fd)
	if err != nil {
		return nil, err
	}
	if r.Seekable {
		if err := fr.checkSeekable(); err != nil {
			return nil, UnsupportedSourceError(in.describe(), err.Error())
		}
	}
	src := &Source{
		Kind:         BorrowedDescriptor,
		Name:         in.describe(),
		Ownership:    Borrowed,
		Transferable: true,
		r:            fr,
	}
	if in.file != nil {
		src.keepAlive = in.file
	}
	return src, nil
}

func (r Resolver) resolveStream(in streamInput) (*Source, error) {
	if in.r == nil {
		return nil, UnsupportedSourceError("stream", "reader is nil")
	}
	if r.Seekable {
		if _, ok := in.r.(io.Seeker); !ok {
			return nil, UnsupportedSourceError(in.describe(), "stream is not seekable")
		}
	}
	return &Source{
		Kind:      CallbackStream,
		Name:      in.describe(),
		Ownership: Borrowed,
		r:         in.r,
	}, nil
}
