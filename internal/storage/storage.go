// Package storage provides the object store abstraction used for remote dump
// uploads, remote imports and bucket replication, with S3, GCS, Azure Blob and
// local filesystem providers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Visibility is the access level of a stored object.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// DefaultContentType is used when an object's content type is unknown.
const DefaultContentType = "application/octet-stream"

// ErrNotFound is returned (wrapped) when an object does not exist.
var ErrNotFound = errors.New("object not found")

// Attributes are the object metadata preserved by replication.
type Attributes struct {
	ContentType string
	Visibility  Visibility
	Size        int64
}

// DefaultAttributes is the fallback used when an object's metadata cannot be read.
func DefaultAttributes() Attributes {
	return Attributes{ContentType: DefaultContentType, Visibility: VisibilityPrivate}
}

// ObjectStore is a flat key/value view of one bucket.
type ObjectStore interface {
	// Bucket returns the bucket (or container) name.
	Bucket() string
	// List returns every key in the bucket. Providers page internally.
	List(ctx context.Context) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Attributes(ctx context.Context, key string) (Attributes, error)
	Put(ctx context.Context, key string, body io.Reader, attrs Attributes) error
	// HealthCheck verifies the bucket is reachable with the configured credentials.
	HealthCheck(ctx context.Context) error
}

// Part is one uploaded part of a multipart upload.
type Part struct {
	Number int
	ETag   string
	Size   int
}

// MultipartUploader uploads an object as numbered parts.
type MultipartUploader interface {
	CreateUpload(ctx context.Context, key string, attrs Attributes) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, number int, data []byte) (string, error)
	CompleteUpload(ctx context.Context, key, uploadID string, parts []Part) error
	AbortUpload(ctx context.Context, key, uploadID string) error
	// MinPartSize is the smallest size allowed for every part but the last.
	MinPartSize() int
}

// URLSigner produces download links for stored objects.
type URLSigner interface {
	PresignGet(ctx context.Context, key string, expiration time.Duration) (string, error)
	PublicURL(key string) string
}

// Provider is a complete object store backend.
type Provider interface {
	ObjectStore
	MultipartUploader
	URLSigner
}

// Reference points at one object: <scheme>://<bucket>/<key>.
type Reference struct {
	Scheme string
	Bucket string
	Key    string
}

func (r Reference) String() string {
	return fmt.Sprintf("%s://%s/%s", r.Scheme, r.Bucket, r.Key)
}

// ParseReference parses a remote object reference. ok is false for plain paths.
func ParseReference(location string) (Reference, bool, error) {
	scheme, rest, found := strings.Cut(location, "://")
	if !found {
		return Reference{}, false, nil
	}
	switch strings.ToLower(scheme) {
	case "s3", "gs", "gcs", "azure", "file":
	default:
		return Reference{}, true, fmt.Errorf("unsupported object reference scheme %q", scheme)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return Reference{}, true, fmt.Errorf("object reference %q must be <scheme>://<bucket>/<key>", location)
	}
	return Reference{Scheme: strings.ToLower(scheme), Bucket: bucket, Key: key}, true, nil
}

// JoinKey joins a key prefix and a name with exactly one slash.
func JoinKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	name = strings.TrimLeft(name, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
