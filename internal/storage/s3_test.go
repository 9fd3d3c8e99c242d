package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	s3iface.S3API

	pages     [][]string
	heads     map[string]*s3.HeadObjectOutput
	headErr   error
	grants    []*s3.Grant
	puts      []*s3.PutObjectInput
	putBodies []string
	created   *s3.CreateMultipartUploadInput
	completed *s3.CompleteMultipartUploadInput
	aborted   *s3.AbortMultipartUploadInput
}

func (f *fakeS3) ListObjectsV2PagesWithContext(_ aws.Context, _ *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	for i, page := range f.pages {
		out := &s3.ListObjectsV2Output{}
		for _, key := range page {
			out.Contents = append(out.Contents, &s3.Object{Key: aws.String(key)})
		}
		if !fn(out, i == len(f.pages)-1) {
			break
		}
	}
	return nil
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if out, ok := f.heads[aws.StringValue(in.Key)]; ok {
		return out, nil
	}
	return nil, awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), 404, "req")
}

func (f *fakeS3) GetObjectAclWithContext(aws.Context, *s3.GetObjectAclInput, ...request.Option) (*s3.GetObjectAclOutput, error) {
	return &s3.GetObjectAclOutput{Grants: f.grants}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, in)
	f.putBodies = append(f.putBodies, string(data))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUploadWithContext(_ aws.Context, in *s3.CreateMultipartUploadInput, _ ...request.Option) (*s3.CreateMultipartUploadOutput, error) {
	f.created = in
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("mpu-1")}, nil
}

func (f *fakeS3) UploadPartWithContext(_ aws.Context, in *s3.UploadPartInput, _ ...request.Option) (*s3.UploadPartOutput, error) {
	return &s3.UploadPartOutput{ETag: aws.String("\"etag-" + aws.StringValue(in.UploadId) + "\"")}, nil
}

func (f *fakeS3) CompleteMultipartUploadWithContext(_ aws.Context, in *s3.CompleteMultipartUploadInput, _ ...request.Option) (*s3.CompleteMultipartUploadOutput, error) {
	f.completed = in
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUploadWithContext(_ aws.Context, in *s3.AbortMultipartUploadInput, _ ...request.Option) (*s3.AbortMultipartUploadOutput, error) {
	f.aborted = in
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestS3Store_List(t *testing.T) {
	fake := &fakeS3{pages: [][]string{{"a.png", "b.png"}, {"c.png"}}}
	store := NewS3StoreWithClient(fake, "media", &S3Config{Region: "us-east-1"}, "")

	keys, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png", "c.png"}, keys)
}

func TestS3Store_Exists(t *testing.T) {
	fake := &fakeS3{heads: map[string]*s3.HeadObjectOutput{"a.png": {}}}
	store := NewS3StoreWithClient(fake, "media", nil, "")

	ok, err := store.Exists(context.Background(), "a.png")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(context.Background(), "missing.png")
	require.NoError(t, err)
	assert.False(t, ok)

	fake.headErr = awserr.NewRequestFailure(awserr.New("Forbidden", "denied", nil), 403, "req")
	_, err = store.Exists(context.Background(), "a.png")
	assert.Error(t, err)
}

func TestS3Store_Attributes(t *testing.T) {
	fake := &fakeS3{
		heads: map[string]*s3.HeadObjectOutput{
			"a.png": {ContentType: aws.String("image/png"), ContentLength: aws.Int64(42)},
		},
	}
	store := NewS3StoreWithClient(fake, "media", nil, "")

	attrs, err := store.Attributes(context.Background(), "a.png")
	require.NoError(t, err)
	assert.Equal(t, Attributes{ContentType: "image/png", Size: 42, Visibility: VisibilityPrivate}, attrs)

	fake.grants = []*s3.Grant{{
		Grantee:    &s3.Grantee{Type: aws.String(s3.TypeGroup), URI: aws.String(allUsersURI)},
		Permission: aws.String(s3.PermissionRead),
	}}
	attrs, err = store.Attributes(context.Background(), "a.png")
	require.NoError(t, err)
	assert.Equal(t, VisibilityPublic, attrs.Visibility)
}

func TestS3Store_PutPreservesAttributes(t *testing.T) {
	fake := &fakeS3{}
	store := NewS3StoreWithClient(fake, "media", nil, "")

	err := store.Put(context.Background(), "a.png", strings.NewReader("png-bytes"), Attributes{
		ContentType: "image/png",
		Visibility:  VisibilityPublic,
	})
	require.NoError(t, err)
	require.Len(t, fake.puts, 1)
	assert.Equal(t, "image/png", aws.StringValue(fake.puts[0].ContentType))
	assert.Equal(t, s3.ObjectCannedACLPublicRead, aws.StringValue(fake.puts[0].ACL))
	assert.Equal(t, "png-bytes", fake.putBodies[0])

	require.NoError(t, store.Put(context.Background(), "b.bin", strings.NewReader("x"), Attributes{}))
	assert.Equal(t, DefaultContentType, aws.StringValue(fake.puts[1].ContentType))
	assert.Equal(t, s3.ObjectCannedACLPrivate, aws.StringValue(fake.puts[1].ACL))
}

func TestS3Store_Multipart(t *testing.T) {
	fake := &fakeS3{}
	store := NewS3StoreWithClient(fake, "dumps", nil, "")
	ctx := context.Background()

	id, err := store.CreateUpload(ctx, "export.sql", Attributes{ContentType: "application/sql"})
	require.NoError(t, err)
	assert.Equal(t, "mpu-1", id)
	assert.Equal(t, "application/sql", aws.StringValue(fake.created.ContentType))

	etag, err := store.UploadPart(ctx, "export.sql", id, 1, []byte("data"))
	require.NoError(t, err)

	require.NoError(t, store.CompleteUpload(ctx, "export.sql", id, []Part{{Number: 1, ETag: etag}, {Number: 2, ETag: "\"b\""}}))
	parts := fake.completed.MultipartUpload.Parts
	require.Len(t, parts, 2)
	assert.Equal(t, int64(1), aws.Int64Value(parts[0].PartNumber))
	assert.Equal(t, etag, aws.StringValue(parts[0].ETag))
	assert.Equal(t, int64(2), aws.Int64Value(parts[1].PartNumber))

	require.NoError(t, store.AbortUpload(ctx, "export.sql", id))
	assert.Equal(t, "mpu-1", aws.StringValue(fake.aborted.UploadId))
	assert.Equal(t, 5<<20, store.MinPartSize())
}

func TestS3Store_PublicURL(t *testing.T) {
	tests := []struct {
		name      string
		config    *S3Config
		publicURL string
		want      string
	}{
		{"virtual host", &S3Config{Region: "eu-west-1"}, "", "https://dumps.s3.eu-west-1.amazonaws.com/a%20b/export.sql"},
		{"path style", &S3Config{Region: "eu-west-1", ForcePathStyle: true}, "", "https://s3.eu-west-1.amazonaws.com/dumps/a%20b/export.sql"},
		{"custom endpoint", &S3Config{Endpoint: "http://minio:9000/", ForcePathStyle: true}, "", "http://minio:9000/dumps/a%20b/export.sql"},
		{"public base", &S3Config{Region: "eu-west-1"}, "https://cdn.example.com/", "https://cdn.example.com/a%20b/export.sql"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewS3StoreWithClient(&fakeS3{}, "dumps", tt.config, tt.publicURL)
			assert.Equal(t, tt.want, store.PublicURL("a b/export.sql"))
		})
	}
}

func TestIsS3NotFound(t *testing.T) {
	assert.True(t, isS3NotFound(awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)))
	assert.True(t, isS3NotFound(awserr.NewRequestFailure(awserr.New("NotFound", "", nil), 404, "r")))
	assert.False(t, isS3NotFound(awserr.New("AccessDenied", "", nil)))
	assert.False(t, isS3NotFound(assert.AnError))
}
