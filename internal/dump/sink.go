package dump

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// PartialSuffix is appended to dumps kept after a failed export.
const PartialSuffix = ".partial"

// FileSink streams chunks into a local file.
type FileSink struct {
	path        string
	file        *os.File
	keepPartial bool
}

// NewFileSink creates (or truncates) path. With keepPartial a failed export
// leaves its output at path+".partial" instead of removing it.
func NewFileSink(path string, keepPartial bool) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create dump file %s: %w", path, err)
	}
	return &FileSink{path: path, file: file, keepPartial: keepPartial}, nil
}

// Path returns the file being written.
func (s *FileSink) Path() string {
	return s.path
}

func (s *FileSink) WriteChunk(_ context.Context, chunk []byte) error {
	_, err := s.file.Write(chunk)
	return err
}

func (s *FileSink) Close(_ context.Context) (string, error) {
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return "", err
	}
	if err := s.file.Close(); err != nil {
		return "", err
	}
	return s.path, nil
}

func (s *FileSink) Abort(_ context.Context) error {
	s.file.Close()
	if s.keepPartial {
		return os.Rename(s.path, s.path+PartialSuffix)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
