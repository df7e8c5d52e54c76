package store

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// snappyMagic is the stream identifier chunk that opens every framed
// snappy stream. JSON documents never start with 0xff, so the prefix is
// enough to tell the two encodings apart.
const snappyMagic = "\xff\x06\x00\x00sNaPpY"

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := snappy.NewBufferedWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return buf.Bytes(), nil
}

// decompress returns data unchanged unless it is a framed snappy stream.
func decompress(data []byte) ([]byte, error) {
	if !isCompressed(data) {
		return data, nil
	}
	out, err := io.ReadAll(snappy.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

func isCompressed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(snappyMagic))
}
