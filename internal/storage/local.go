package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "mysql-porter/internal/errors"
)

// metaDir holds sidecar metadata and in-progress uploads inside a local bucket.
const metaDir = ".porter"

const (
	publicFileMode  os.FileMode = 0o644
	privateFileMode os.FileMode = 0o600
	dirMode         os.FileMode = 0o755
)

// LocalStore implements Provider on the local file system. A bucket is a
// directory under the base path; public objects are world readable.
type LocalStore struct {
	root      string
	bucket    string
	publicURL string
}

type localMeta struct {
	ContentType string `json:"content_type"`
}

// NewLocalStore creates a local store rooted at basePath/bucket
func NewLocalStore(bucket string, config *LocalConfig, publicURL string) (*LocalStore, error) {
	if config == nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "local storage configuration is required", nil)
	}

	root, err := filepath.Abs(filepath.Join(config.BasePath, bucket))
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeFileSystem, "failed to resolve storage path", err)
	}
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeFileSystem, "failed to create base directory", err)
	}

	return &LocalStore{root: root, bucket: bucket, publicURL: publicURL}, nil
}

// Bucket returns the bucket directory name
func (l *LocalStore) Bucket() string {
	return l.bucket
}

// Root returns the absolute bucket directory
func (l *LocalStore) Root() string {
	return l.root
}

// List walks the bucket directory and returns slash-separated keys
func (l *LocalStore) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if d.Name() == metaDir && filepath.Dir(p) == l.root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to list bucket %s", l.bucket))
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether key is a regular file
func (l *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := l.pathFor(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.WrapError(err, fmt.Sprintf("failed to check object %s", key))
	}
	return info.Mode().IsRegular(), nil
}

// Get opens the file behind key
func (l *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := l.pathFor(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", l.bucket, key, ErrNotFound)
	}
	if err != nil {
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to open object %s", key))
	}
	return file, nil
}

// Attributes derives visibility from the file mode and reads the content type sidecar
func (l *LocalStore) Attributes(_ context.Context, key string) (Attributes, error) {
	p, err := l.pathFor(key)
	if err != nil {
		return Attributes{}, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return Attributes{}, apperrors.WrapError(err, fmt.Sprintf("failed to stat object %s", key))
	}

	attrs := Attributes{
		ContentType: l.contentType(key),
		Size:        info.Size(),
		Visibility:  VisibilityPrivate,
	}
	if info.Mode().Perm()&0o004 != 0 {
		attrs.Visibility = VisibilityPublic
	}
	return attrs, nil
}

// Put writes body to a temporary file and renames it into place
func (l *LocalStore) Put(_ context.Context, key string, body io.Reader, attrs Attributes) error {
	p, err := l.pathFor(key)
	if err != nil {
		return err
	}
	if err := l.writeFile(p, attrs, func(w io.Writer) error {
		_, err := io.Copy(w, body)
		return err
	}); err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to write object %s", key))
	}
	return l.saveMeta(key, attrs)
}

// HealthCheck verifies that the bucket directory is present and writable
func (l *LocalStore) HealthCheck(_ context.Context) error {
	info, err := os.Stat(l.root)
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("local bucket %s is not accessible", l.bucket))
	}
	if !info.IsDir() {
		return apperrors.NewAppError(apperrors.ErrorTypeFileSystem, fmt.Sprintf("local bucket %s is not a directory", l.bucket), nil)
	}
	probe, err := os.CreateTemp(l.root, ".health-*")
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("local bucket %s is not writable", l.bucket))
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// CreateUpload prepares a staging directory for the parts
func (l *LocalStore) CreateUpload(_ context.Context, key string, attrs Attributes) (string, error) {
	if _, err := l.pathFor(key); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := os.MkdirAll(l.uploadDir(id), dirMode); err != nil {
		return "", apperrors.WrapError(err, "failed to create upload directory")
	}
	data, err := json.Marshal(localMeta{ContentType: contentTypeOf(attrs)})
	if err != nil {
		return "", err
	}
	mode := privateFileMode
	if attrs.Visibility == VisibilityPublic {
		mode = publicFileMode
	}
	if err := os.WriteFile(filepath.Join(l.uploadDir(id), "upload.json"), data, mode); err != nil {
		return "", apperrors.WrapError(err, "failed to record upload metadata")
	}
	return id, nil
}

// UploadPart writes one part file
func (l *LocalStore) UploadPart(_ context.Context, key, uploadID string, number int, data []byte) (string, error) {
	name := fmt.Sprintf("%05d.part", number)
	if err := os.WriteFile(filepath.Join(l.uploadDir(uploadID), name), data, privateFileMode); err != nil {
		return "", apperrors.WrapError(err, fmt.Sprintf("failed to write part %d of %s", number, key))
	}
	return name, nil
}

// CompleteUpload concatenates the parts into the object
func (l *LocalStore) CompleteUpload(_ context.Context, key, uploadID string, parts []Part) error {
	p, err := l.pathFor(key)
	if err != nil {
		return err
	}
	dir := l.uploadDir(uploadID)
	defer os.RemoveAll(dir)

	attrs := Attributes{ContentType: DefaultContentType, Visibility: VisibilityPrivate}
	if info, err := os.Stat(filepath.Join(dir, "upload.json")); err == nil {
		if data, err := os.ReadFile(filepath.Join(dir, "upload.json")); err == nil {
			var meta localMeta
			if json.Unmarshal(data, &meta) == nil && meta.ContentType != "" {
				attrs.ContentType = meta.ContentType
			}
		}
		if info.Mode().Perm()&0o004 != 0 {
			attrs.Visibility = VisibilityPublic
		}
	}

	err = l.writeFile(p, attrs, func(w io.Writer) error {
		for _, part := range parts {
			f, err := os.Open(filepath.Join(dir, filepath.Base(part.ETag)))
			if err != nil {
				return err
			}
			_, err = io.Copy(w, f)
			f.Close()
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to assemble object %s", key))
	}
	return l.saveMeta(key, attrs)
}

// AbortUpload removes the staging directory
func (l *LocalStore) AbortUpload(_ context.Context, _ string, uploadID string) error {
	return os.RemoveAll(l.uploadDir(uploadID))
}

// MinPartSize is zero: local parts have no size floor
func (l *LocalStore) MinPartSize() int {
	return 0
}

// PresignGet returns the object URL. The local provider cannot expire links.
func (l *LocalStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, err := l.pathFor(key); err != nil {
		return "", err
	}
	return l.PublicURL(key), nil
}

// PublicURL returns a file:// URL, or the configured public base URL
func (l *LocalStore) PublicURL(key string) string {
	if l.publicURL != "" {
		return strings.TrimRight(l.publicURL, "/") + "/" + escapeKey(key)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(l.root, filepath.FromSlash(key)))}
	return u.String()
}

// pathFor maps key to a file path inside the bucket directory.
func (l *LocalStore) pathFor(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || strings.HasPrefix(clean, "/"+metaDir+"/") || clean == "/"+metaDir {
		return "", apperrors.NewAppError(apperrors.ErrorTypeValidation, fmt.Sprintf("invalid object key %q", key), nil)
	}
	if clean != "/"+strings.TrimPrefix(key, "/") {
		return "", apperrors.NewAppError(apperrors.ErrorTypeValidation, fmt.Sprintf("object key %q is not canonical", key), nil)
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

func (l *LocalStore) uploadDir(uploadID string) string {
	return filepath.Join(l.root, metaDir, "uploads", filepath.Base(uploadID))
}

func (l *LocalStore) metaPath(key string) string {
	return filepath.Join(l.root, metaDir, "meta", filepath.FromSlash(key)+".json")
}

func (l *LocalStore) writeFile(target string, attrs Attributes, fill func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	mode := privateFileMode
	if attrs.Visibility == VisibilityPublic {
		mode = publicFileMode
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (l *LocalStore) saveMeta(key string, attrs Attributes) error {
	p := l.metaPath(key)
	if err := os.MkdirAll(filepath.Dir(p), dirMode); err != nil {
		return apperrors.WrapError(err, "failed to create metadata directory")
	}
	data, err := json.Marshal(localMeta{ContentType: contentTypeOf(attrs)})
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, privateFileMode); err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to write metadata of %s", key))
	}
	return nil
}

func (l *LocalStore) contentType(key string) string {
	if data, err := os.ReadFile(l.metaPath(key)); err == nil {
		var meta localMeta
		if json.Unmarshal(data, &meta) == nil && meta.ContentType != "" {
			return meta.ContentType
		}
	}
	if byExt := mime.TypeByExtension(path.Ext(key)); byExt != "" {
		return byExt
	}
	return DefaultContentType
}
