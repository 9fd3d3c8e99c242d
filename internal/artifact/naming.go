package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
)

// NamePrefix starts every generated export name.
const NamePrefix = "export_"

// NewName returns a random dump file name such as export_3f9a1c02de.sql,
// followed by ext when the dump is compressed.
func NewName(ext string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return NamePrefix + id[:10] + ".sql" + ext
}

// EnsureExtension appends .sql and the compression extension to name when
// they are missing.
func EnsureExtension(name, ext string) string {
	if ext != "" && strings.HasSuffix(name, ext) {
		return name
	}
	if !strings.HasSuffix(name, ".sql") {
		name += ".sql"
	}
	return name + ext
}

// FileChecksum returns the hex SHA-256 of the file at path
func FileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
