// Package compression provides streaming compressors for dump files.
package compression

import (
	"compress/gzip"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies a compression algorithm
type Type string

const (
	TypeNone Type = "none"
	TypeGzip Type = "gzip"
	TypeLZ4  Type = "lz4"
	TypeZstd Type = "zstd"
)

// Compressor wraps streams with one algorithm
type Compressor interface {
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
	Algorithm() Type
	Extension() string
	DefaultLevel() int
	MinLevel() int
	MaxLevel() int
}

// Manager looks up compressors by type or file extension
type Manager struct {
	compressors map[Type]Compressor
}

// NewManager creates a manager with gzip, lz4 and zstd registered
func NewManager() *Manager {
	m := &Manager{compressors: make(map[Type]Compressor)}
	for _, c := range []Compressor{&GzipCompressor{}, &LZ4Compressor{}, &ZstdCompressor{}} {
		m.compressors[c.Algorithm()] = c
	}
	return m
}

// ParseType normalizes a configured algorithm name. Empty means none.
func ParseType(name string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(name))); t {
	case "", TypeNone:
		return TypeNone, nil
	case TypeGzip, TypeLZ4, TypeZstd:
		return t, nil
	case "gz":
		return TypeGzip, nil
	case "zst":
		return TypeZstd, nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", name)
	}
}

// Get returns the compressor for algorithm
func (m *Manager) Get(algorithm Type) (Compressor, error) {
	c, ok := m.compressors[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
	return c, nil
}

// Supported lists the registered algorithms
func (m *Manager) Supported() []Type {
	types := make([]Type, 0, len(m.compressors))
	for t := range m.compressors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Writer wraps w so data written is compressed with algorithm. A zero or out of
// range level selects the algorithm default. With TypeNone the returned writer
// passes data through and Close does not close w.
func (m *Manager) Writer(w io.Writer, algorithm Type, level int) (io.WriteCloser, error) {
	if algorithm == TypeNone || algorithm == "" {
		return nopWriteCloser{w}, nil
	}
	c, err := m.Get(algorithm)
	if err != nil {
		return nil, err
	}
	if level == 0 || level < c.MinLevel() || level > c.MaxLevel() {
		level = c.DefaultLevel()
	}
	return c.NewWriter(w, level)
}

// Reader wraps r so data read is decompressed with algorithm
func (m *Manager) Reader(r io.Reader, algorithm Type) (io.ReadCloser, error) {
	if algorithm == TypeNone || algorithm == "" {
		return io.NopCloser(r), nil
	}
	c, err := m.Get(algorithm)
	if err != nil {
		return nil, err
	}
	return c.NewReader(r)
}

// Extension returns the file suffix for algorithm, including the dot
func (m *Manager) Extension(algorithm Type) string {
	if c, err := m.Get(algorithm); err == nil {
		return c.Extension()
	}
	return ""
}

// DetectFromName infers the algorithm from a file or object name
func (m *Manager) DetectFromName(name string) Type {
	lower := strings.ToLower(name)
	for _, t := range m.Supported() {
		if strings.HasSuffix(lower, m.compressors[t].Extension()) {
			return t
		}
	}
	return TypeNone
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// GzipCompressor implements gzip compression
type GzipCompressor struct{}

func (gc *GzipCompressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	writer, err := gzip.NewWriterLevel(w, level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	return writer, nil
}

func (gc *GzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	reader, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return reader, nil
}

func (gc *GzipCompressor) Algorithm() Type   { return TypeGzip }
func (gc *GzipCompressor) Extension() string { return ".gz" }
func (gc *GzipCompressor) DefaultLevel() int { return gzip.DefaultCompression }
func (gc *GzipCompressor) MinLevel() int     { return gzip.DefaultCompression }
func (gc *GzipCompressor) MaxLevel() int     { return gzip.BestCompression }

// LZ4Compressor implements LZ4 frame compression
type LZ4Compressor struct{}

func (lc *LZ4Compressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	writer := lz4.NewWriter(w)
	if level > 6 {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, fmt.Errorf("failed to set LZ4 high compression: %w", err)
		}
	}
	return writer, nil
}

func (lc *LZ4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (lc *LZ4Compressor) Algorithm() Type   { return TypeLZ4 }
func (lc *LZ4Compressor) Extension() string { return ".lz4" }
func (lc *LZ4Compressor) DefaultLevel() int { return 1 }
func (lc *LZ4Compressor) MinLevel() int     { return 1 }
func (lc *LZ4Compressor) MaxLevel() int     { return 9 }

// ZstdCompressor implements Zstandard compression
type ZstdCompressor struct{}

func (zc *ZstdCompressor) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	return encoder, nil
}

func (zc *ZstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	return decoder.IOReadCloser(), nil
}

func (zc *ZstdCompressor) Algorithm() Type   { return TypeZstd }
func (zc *ZstdCompressor) Extension() string { return ".zst" }
func (zc *ZstdCompressor) DefaultLevel() int { return 3 }
func (zc *ZstdCompressor) MinLevel() int     { return 1 }
func (zc *ZstdCompressor) MaxLevel() int     { return 22 }
