package loader

import (
	"fmt"
	"io"
)

// ManifestTooLargeError is returned when a manifest exceeds the size limit.
type ManifestTooLargeError struct {
	Path  string
	Limit int64
}

func (e *ManifestTooLargeError) Error() string {
	return fmt.Sprintf("manifest %s exceeds size limit of %s", e.Path, formatSize(e.Limit))
}

// readLimited reads all of r, failing once more than limit bytes arrive.
func readLimited(r io.Reader, path string, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &ManifestTooLargeError{Path: path, Limit: limit}
	}
	return data, nil
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)

	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
