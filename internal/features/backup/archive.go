package backup

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"go-crmsync/internal/features/sync"
)

// archive is the backup payload layout: metadata plus the record set,
// JSON-encoded then gzip-compressed. The checksum in metadata is
// computed over the final (compressed) byte stream.
type archive struct {
	Metadata       BackupMetadata     `json:"metadata"`
	Records        []sync.LocalRecord `json:"records"`
	DeletedRecords []string           `json:"deletedRecords,omitempty"`
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// encodeArchive serializes and compresses the archive, returning the
// final bytes, the uncompressed size and the checksum of the final
// bytes.
func encodeArchive(a *archive) (data []byte, rawSize int64, checksum string, err error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to serialize backup: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, 0, "", fmt.Errorf("failed to compress backup: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, 0, "", fmt.Errorf("failed to compress backup: %w", err)
	}

	data = buf.Bytes()
	return data, int64(len(raw)), checksumOf(data), nil
}

func decodeArchive(data []byte) (*archive, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress backup: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress backup: %w", err)
	}

	var a archive
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to parse backup: %w", err)
	}
	return &a, nil
}
