package store

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
)

// brotliLevel trades compression for CPU; payloads are mostly JSON text
// and level 5 keeps insert latency low on the queue goroutine.
const brotliLevel = 5

// compress brotli-encodes raw, returning nil on empty input or failure.
func compress(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotliLevel)
	if _, err := w.Write(raw); err != nil {
		return nil
	}
	if err := w.Close(); err != nil {
		return nil
	}
	return buf.Bytes()
}

// decompress reverses compress, returning nil on empty or corrupt input.
func decompress(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil
	}
	return out
}
