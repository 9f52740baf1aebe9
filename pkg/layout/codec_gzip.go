package layout

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// gzipCodec compresses with the standard library's gzip implementation,
// which unlike compress/bzip2 provides both a reader and a writer.
type gzipCodec struct{}

func (gzipCodec) Apply(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, fmt.Errorf("writing gzip data: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Reverse(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("reading gzip data: %w", err)
	}
	return out, nil
}
