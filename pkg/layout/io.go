package layout

import (
	"fmt"
	"io"

	"github.com/layoutkit/layoutkit/pkg/layout/errs"
)

// SequentialReader is the minimal interface Read needs: consume bytes
// sequentially from a stream.
type SequentialReader interface {
	io.Reader
}

// PositionalReader is the minimal interface PRead needs: read bytes at an
// arbitrary offset without disturbing any sequential read position.
type PositionalReader interface {
	io.ReaderAt
}

// Read consumes exactly d's fixed byte width from r and unpacks it. d must
// be fixed-size; variable-size descriptors have no fixed width to read and
// return ErrUnsupportedOperation.
func Read(r SequentialReader, d Descriptor, opts ...UnpackOption) (any, error) {
	if !d.FixedSize() {
		return nil, fmt.Errorf("%w: Read requires a fixed-size descriptor", errs.ErrUnsupportedOperation)
	}
	buf := make([]byte, d.Size())
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading %d bytes: %w", len(buf), err)
	}
	return d.Unpack(buf, opts...)
}

// PRead reads exactly d's fixed byte width from r at offset and unpacks
// it, without requiring the reader to track a sequential position.
func PRead(r PositionalReader, offset int64, d Descriptor, opts ...UnpackOption) (any, error) {
	if !d.FixedSize() {
		return nil, fmt.Errorf("%w: PRead requires a fixed-size descriptor", errs.ErrUnsupportedOperation)
	}
	buf := make([]byte, d.Size())
	if _, err := r.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("reading %d bytes at offset %d: %w", len(buf), offset, err)
	}
	return d.Unpack(buf, opts...)
}
