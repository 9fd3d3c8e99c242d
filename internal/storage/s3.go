package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	apperrors "mysql-porter/internal/errors"
)

const (
	s3MinPartSize = 5 << 20
	allUsersURI   = "http://acs.amazonaws.com/groups/global/AllUsers"
)

// S3Store implements Provider for Amazon S3 and S3-compatible services
type S3Store struct {
	client    s3iface.S3API
	bucket    string
	region    string
	endpoint  string
	pathStyle bool
	publicURL string
}

// NewS3Store creates an S3 store for bucket
func NewS3Store(bucket string, config *S3Config, publicURL string) (*S3Store, error) {
	if config == nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "S3 storage configuration is required", nil)
	}

	awsConfig := &aws.Config{
		Region:           aws.String(config.Region),
		S3ForcePathStyle: aws.Bool(config.ForcePathStyle),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeStorage, "failed to create AWS session", err)
	}

	return NewS3StoreWithClient(s3.New(sess), bucket, config, publicURL), nil
}

// NewS3StoreWithClient wraps an existing S3 client
func NewS3StoreWithClient(client s3iface.S3API, bucket string, config *S3Config, publicURL string) *S3Store {
	store := &S3Store{client: client, bucket: bucket, publicURL: publicURL}
	if config != nil {
		store.region = config.Region
		store.endpoint = strings.TrimRight(config.Endpoint, "/")
		store.pathStyle = config.ForcePathStyle
	}
	return store
}

// Bucket returns the S3 bucket name
func (s *S3Store) Bucket() string {
	return s.bucket
}

// List returns every key in the bucket
func (s *S3Store) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to list bucket %s", s.bucket))
	}
	return keys, nil
}

// Exists reports whether key is present
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, apperrors.WrapError(err, fmt.Sprintf("failed to check object %s", key))
}

// Get opens the object body
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%s/%s: %w", s.bucket, key, ErrNotFound)
		}
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to download object %s", key))
	}
	return out.Body, nil
}

// Attributes reads content type, size and ACL-derived visibility
func (s *S3Store) Attributes(ctx context.Context, key string) (Attributes, error) {
	head, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Attributes{}, apperrors.WrapError(err, fmt.Sprintf("failed to read metadata of %s", key))
	}

	attrs := Attributes{
		ContentType: aws.StringValue(head.ContentType),
		Size:        aws.Int64Value(head.ContentLength),
		Visibility:  VisibilityPrivate,
	}
	if attrs.ContentType == "" {
		attrs.ContentType = DefaultContentType
	}

	acl, err := s.client.GetObjectAclWithContext(ctx, &s3.GetObjectAclInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Attributes{}, apperrors.WrapError(err, fmt.Sprintf("failed to read ACL of %s", key))
	}
	for _, grant := range acl.Grants {
		if grant.Grantee != nil && aws.StringValue(grant.Grantee.URI) == allUsersURI &&
			(aws.StringValue(grant.Permission) == s3.PermissionRead || aws.StringValue(grant.Permission) == s3.PermissionFullControl) {
			attrs.Visibility = VisibilityPublic
			break
		}
	}
	return attrs, nil
}

// Put uploads body as key in a single request
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, attrs Attributes) error {
	seeker, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("failed to read object body: %w", err)
		}
		seeker = bytes.NewReader(data)
	}

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        seeker,
		ContentType: aws.String(contentTypeOf(attrs)),
		ACL:         aws.String(s3ACL(attrs.Visibility)),
	})
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to upload object %s", key))
	}
	return nil
}

// HealthCheck verifies that the bucket exists and is accessible
func (s *S3Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("S3 bucket %s is not accessible", s.bucket))
	}
	return nil
}

// CreateUpload starts a multipart upload
func (s *S3Store) CreateUpload(ctx context.Context, key string, attrs Attributes) (string, error) {
	out, err := s.client.CreateMultipartUploadWithContext(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentTypeOf(attrs)),
		ACL:         aws.String(s3ACL(attrs.Visibility)),
	})
	if err != nil {
		return "", apperrors.WrapError(err, fmt.Sprintf("failed to start multipart upload of %s", key))
	}
	return aws.StringValue(out.UploadId), nil
}

// UploadPart uploads one part and returns its ETag
func (s *S3Store) UploadPart(ctx context.Context, key, uploadID string, number int, data []byte) (string, error) {
	out, err := s.client.UploadPartWithContext(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int64(int64(number)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", apperrors.WrapError(err, fmt.Sprintf("failed to upload part %d of %s", number, key))
	}
	return aws.StringValue(out.ETag), nil
}

// CompleteUpload submits the part list verbatim
func (s *S3Store) CompleteUpload(ctx context.Context, key, uploadID string, parts []Part) error {
	completed := make([]*s3.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = &s3.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int64(int64(p.Number)),
		}
	}

	_, err := s.client.CompleteMultipartUploadWithContext(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to complete multipart upload of %s", key))
	}
	return nil
}

// AbortUpload discards the multipart upload and its parts
func (s *S3Store) AbortUpload(ctx context.Context, key, uploadID string) error {
	_, err := s.client.AbortMultipartUploadWithContext(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to abort multipart upload of %s", key))
	}
	return nil
}

// MinPartSize is the S3 lower bound for all parts except the last
func (s *S3Store) MinPartSize() int {
	return s3MinPartSize
}

// PresignGet returns a time-limited download URL
func (s *S3Store) PresignGet(_ context.Context, key string, expiration time.Duration) (string, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	link, err := req.Presign(expiration)
	if err != nil {
		return "", apperrors.WrapError(err, fmt.Sprintf("failed to presign %s", key))
	}
	return link, nil
}

// PublicURL returns the durable URL of key
func (s *S3Store) PublicURL(key string) string {
	escaped := escapeKey(key)
	if s.publicURL != "" {
		return strings.TrimRight(s.publicURL, "/") + "/" + escaped
	}
	if s.endpoint != "" {
		u, err := url.Parse(s.endpoint)
		if err == nil && u.Host != "" {
			if s.pathStyle {
				return fmt.Sprintf("%s://%s/%s/%s", u.Scheme, u.Host, s.bucket, escaped)
			}
			return fmt.Sprintf("%s://%s.%s/%s", u.Scheme, s.bucket, u.Host, escaped)
		}
	}
	region := s.region
	if region == "" {
		region = "us-east-1"
	}
	if s.pathStyle {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", region, s.bucket, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, region, escaped)
}

func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

func s3ACL(v Visibility) string {
	if v == VisibilityPublic {
		return s3.ObjectCannedACLPublicRead
	}
	return s3.ObjectCannedACLPrivate
}

func contentTypeOf(attrs Attributes) string {
	if attrs.ContentType == "" {
		return DefaultContentType
	}
	return attrs.ContentType
}

// escapeKey percent-encodes each path segment of key.
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
