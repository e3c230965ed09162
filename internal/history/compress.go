package history

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// Compressed payloads carry this marker so rows written before compression
// was introduced stay readable: anything without it is treated as plain JSON.
const compressionMarker = "ZLIB:"

// compressJSON deflates a JSON document and encodes it for storage in a
// text column.
func compressJSON(data []byte) (string, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return compressionMarker + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// decompressJSON reverses compressJSON. Legacy rows stored as plain JSON
// pass through untouched.
func decompressJSON(stored string) ([]byte, error) {
	if !strings.HasPrefix(stored, compressionMarker) {
		return []byte(stored), nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, compressionMarker))
	if err != nil {
		return nil, fmt.Errorf("decode compressed payload: %w", err)
	}
	r, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open compressed payload: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("inflate payload: %w", err)
	}
	return out, nil
}
