package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	apperrors "mysql-porter/internal/errors"
)

// gcsComposeLimit is the maximum number of sources of a single compose request.
const gcsComposeLimit = 32

// GCSStore implements Provider for Google Cloud Storage. Multipart uploads are
// staged as temporary part objects and composed on completion.
type GCSStore struct {
	client    *storage.Client
	bucket    string
	publicURL string

	mu      sync.Mutex
	uploads map[string]Attributes
}

// NewGCSStore creates a GCS store for bucket
func NewGCSStore(ctx context.Context, bucket string, config *GCSConfig, publicURL string) (*GCSStore, error) {
	if config == nil {
		config = &GCSConfig{}
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeStorage, "failed to create GCS client", err)
	}

	return &GCSStore{
		client:    client,
		bucket:    bucket,
		publicURL: publicURL,
		uploads:   make(map[string]Attributes),
	}, nil
}

// Bucket returns the GCS bucket name
func (g *GCSStore) Bucket() string {
	return g.bucket
}

// List returns every object name in the bucket
func (g *GCSStore) List(ctx context.Context) ([]string, error) {
	var keys []string
	it := g.client.Bucket(g.bucket).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, apperrors.WrapError(err, fmt.Sprintf("failed to list bucket %s", g.bucket))
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// Exists reports whether key is present
func (g *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, apperrors.WrapError(err, fmt.Sprintf("failed to check object %s", key))
}

// Get opens the object body
func (g *GCSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s/%s: %w", g.bucket, key, ErrNotFound)
		}
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to download object %s", key))
	}
	return reader, nil
}

// Attributes reads content type, size and ACL-derived visibility
func (g *GCSStore) Attributes(ctx context.Context, key string) (Attributes, error) {
	obj := g.client.Bucket(g.bucket).Object(key)
	objAttrs, err := obj.Attrs(ctx)
	if err != nil {
		return Attributes{}, apperrors.WrapError(err, fmt.Sprintf("failed to read metadata of %s", key))
	}

	attrs := Attributes{
		ContentType: objAttrs.ContentType,
		Size:        objAttrs.Size,
		Visibility:  VisibilityPrivate,
	}
	if attrs.ContentType == "" {
		attrs.ContentType = DefaultContentType
	}

	// Buckets with uniform access reject object ACL reads; those objects stay private.
	rules, err := obj.ACL().List(ctx)
	if err == nil {
		for _, rule := range rules {
			if rule.Entity == storage.AllUsers && (rule.Role == storage.RoleReader || rule.Role == storage.RoleOwner) {
				attrs.Visibility = VisibilityPublic
				break
			}
		}
	}
	return attrs, nil
}

// Put uploads body as key
func (g *GCSStore) Put(ctx context.Context, key string, body io.Reader, attrs Attributes) error {
	writer := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentTypeOf(attrs)
	writer.PredefinedACL = gcsACL(attrs.Visibility)

	if _, err := io.Copy(writer, body); err != nil {
		writer.Close()
		return apperrors.WrapError(err, fmt.Sprintf("failed to write object %s", key))
	}
	if err := writer.Close(); err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to finalize object %s", key))
	}
	return nil
}

// HealthCheck verifies that the bucket exists and is accessible
func (g *GCSStore) HealthCheck(ctx context.Context) error {
	if _, err := g.client.Bucket(g.bucket).Attrs(ctx); err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("GCS bucket %s is not accessible", g.bucket))
	}
	return nil
}

// CreateUpload allocates an upload id. Nothing is written until the first part.
func (g *GCSStore) CreateUpload(_ context.Context, _ string, attrs Attributes) (string, error) {
	id := uuid.NewString()
	g.mu.Lock()
	g.uploads[id] = attrs
	g.mu.Unlock()
	return id, nil
}

func (g *GCSStore) takeUpload(uploadID string) Attributes {
	g.mu.Lock()
	defer g.mu.Unlock()
	attrs := g.uploads[uploadID]
	delete(g.uploads, uploadID)
	return attrs
}

// UploadPart stores data as a temporary part object
func (g *GCSStore) UploadPart(ctx context.Context, key, uploadID string, number int, data []byte) (string, error) {
	name := gcsPartName(key, uploadID, number)
	writer := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = DefaultContentType

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return "", apperrors.WrapError(err, fmt.Sprintf("failed to upload part %d of %s", number, key))
	}
	if err := writer.Close(); err != nil {
		return "", apperrors.WrapError(err, fmt.Sprintf("failed to upload part %d of %s", number, key))
	}
	return name, nil
}

// CompleteUpload composes the part objects into key and removes them. The
// compose API accepts at most 32 sources, so larger uploads compose in rounds.
func (g *GCSStore) CompleteUpload(ctx context.Context, key, uploadID string, parts []Part) error {
	if len(parts) == 0 {
		return apperrors.NewAppError(apperrors.ErrorTypeValidation, "multipart upload has no parts", nil)
	}
	attrs := g.takeUpload(uploadID)
	bucket := g.client.Bucket(g.bucket)

	sources := make([]string, len(parts))
	for i, p := range parts {
		sources[i] = p.ETag
	}
	temporaries := append([]string(nil), sources...)
	defer func() {
		g.deleteObjects(context.WithoutCancel(ctx), temporaries)
	}()

	for round := 0; len(sources) > gcsComposeLimit; round++ {
		var next []string
		for i := 0; i < len(sources); i += gcsComposeLimit {
			end := min(i+gcsComposeLimit, len(sources))
			name := fmt.Sprintf("%s.parts/%s/round%02d-%05d", key, uploadID, round, i/gcsComposeLimit)
			if err := g.compose(ctx, bucket.Object(name), sources[i:end], Attributes{}); err != nil {
				return err
			}
			next = append(next, name)
			temporaries = append(temporaries, name)
		}
		sources = next
	}

	return g.compose(ctx, bucket.Object(key), sources, attrs)
}

func (g *GCSStore) compose(ctx context.Context, dst *storage.ObjectHandle, sources []string, attrs Attributes) error {
	handles := make([]*storage.ObjectHandle, len(sources))
	for i, name := range sources {
		handles[i] = g.client.Bucket(g.bucket).Object(name)
	}
	composer := dst.ComposerFrom(handles...)
	composer.ContentType = contentTypeOf(attrs)
	composer.PredefinedACL = gcsACL(attrs.Visibility)
	if _, err := composer.Run(ctx); err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to compose %s", dst.ObjectName()))
	}
	return nil
}

// AbortUpload removes every part object of the upload
func (g *GCSStore) AbortUpload(ctx context.Context, key, uploadID string) error {
	g.takeUpload(uploadID)
	prefix := fmt.Sprintf("%s.parts/%s/", key, uploadID)
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return apperrors.WrapError(err, fmt.Sprintf("failed to list parts of %s", key))
		}
		names = append(names, attrs.Name)
	}
	sort.Strings(names)
	return g.deleteObjects(ctx, names)
}

func (g *GCSStore) deleteObjects(ctx context.Context, names []string) error {
	var firstErr error
	for _, name := range names {
		err := g.client.Bucket(g.bucket).Object(name).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) && firstErr == nil {
			firstErr = apperrors.WrapError(err, fmt.Sprintf("failed to delete %s", name))
		}
	}
	return firstErr
}

// MinPartSize is zero: composed objects have no part size floor
func (g *GCSStore) MinPartSize() int {
	return 0
}

// PresignGet returns a V4 signed download URL
func (g *GCSStore) PresignGet(_ context.Context, key string, expiration time.Duration) (string, error) {
	link, err := g.client.Bucket(g.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(expiration),
	})
	if err != nil {
		return "", apperrors.WrapError(err, fmt.Sprintf("failed to sign URL for %s", key))
	}
	return link, nil
}

// PublicURL returns the durable URL of key
func (g *GCSStore) PublicURL(key string) string {
	if g.publicURL != "" {
		return strings.TrimRight(g.publicURL, "/") + "/" + escapeKey(key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, escapeKey(key))
}

// Close releases the underlying client
func (g *GCSStore) Close() error {
	return g.client.Close()
}

func gcsPartName(key, uploadID string, number int) string {
	return fmt.Sprintf("%s.parts/%s/%05d", key, uploadID, number)
}

func gcsACL(v Visibility) string {
	if v == VisibilityPublic {
		return "publicRead"
	}
	return "private"
}
