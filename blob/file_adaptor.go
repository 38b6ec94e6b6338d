package blob

import (
	"context"
	"fmt"
	"os"
)

// FileAdaptor backs Adaptor with the local filesystem, used for on-disk
// fixtures and local builds. path arguments are plain filesystem paths
// (the scheme has already been stripped by the caller).
type FileAdaptor struct{}

// NewFileAdaptor returns a FileAdaptor.
func NewFileAdaptor() *FileAdaptor { return &FileAdaptor{} }

// ReadRange implements Adaptor.
func (fa *FileAdaptor) ReadRange(_ context.Context, path string, r Range) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blob: open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, r.Length)
	n, err := f.ReadAt(buf, r.Offset)
	if err != nil && int64(n) != r.Length {
		return nil, fmt.Errorf("blob: read %s at %d len %d: %w", path, r.Offset, r.Length, err)
	}
	return buf, nil
}

// ReadAll implements Adaptor.
func (fa *FileAdaptor) ReadAll(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", path, err)
	}
	return data, nil
}

// WriteAll implements Adaptor.
func (fa *FileAdaptor) WriteAll(_ context.Context, path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("blob: write %s: %w", path, err)
	}
	return nil
}

// Remove implements Adaptor.
func (fa *FileAdaptor) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: remove %s: %w", path, err)
	}
	return nil
}
