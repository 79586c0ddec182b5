package cache

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"
)

// Snapshot compression algorithms and the extensions that mark them on disk.
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"

	ExtSnappy = ".snappy"
	ExtLZ4    = ".lz4"

	// Snapshots below this size are stored uncompressed.
	compressionMinSize = 512
)

// Compress compresses a snapshot with the given algorithm. Returns the bytes
// to store and the extension to append to the file name. Small payloads and
// unknown algorithms pass through unchanged.
func Compress(content []byte, algorithm string) ([]byte, string, error) {
	if len(content) < compressionMinSize {
		return content, "", nil
	}

	switch algorithm {
	case CompressionSnappy:
		return snappy.Encode(nil, content), ExtSnappy, nil

	case CompressionLZ4:
		// Stream format embeds the uncompressed size.
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(content); err != nil {
			w.Close()
			return nil, "", fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), ExtLZ4, nil

	default:
		return content, "", nil
	}
}

// Decompress restores a snapshot using the algorithm its file path indicates.
// Uncompressed paths pass through unchanged.
func Decompress(content []byte, filePath string) ([]byte, error) {
	switch DetectAlgorithmFromPath(filePath) {
	case CompressionSnappy:
		decompressed, err := snappy.Decode(nil, content)
		if err != nil {
			return nil, fmt.Errorf("snappy decompression failed: %w", err)
		}
		return decompressed, nil

	case CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(content))
		decompressed, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompression failed: %w", err)
		}
		return decompressed, nil

	default:
		return content, nil
	}
}

// DetectAlgorithmFromPath returns the compression algorithm a file path was
// stored with.
func DetectAlgorithmFromPath(filePath string) string {
	if strings.HasSuffix(filePath, ExtSnappy) {
		return CompressionSnappy
	}
	if strings.HasSuffix(filePath, ExtLZ4) {
		return CompressionLZ4
	}
	return CompressionNone
}
