package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/google/uuid"

	apperrors "mysql-porter/internal/errors"
)

// AzureStore implements Provider for Azure Blob Storage. The configured bucket
// is the blob container. Visibility is a container-level setting in Azure, so
// Put cannot make a single blob public.
type AzureStore struct {
	credential   *azblob.SharedKeyCredential
	containerURL azblob.ContainerURL
	container    string
	publicURL    string

	mu      sync.Mutex
	headers map[string]azblob.BlobHTTPHeaders
}

// NewAzureStore creates an Azure store for container
func NewAzureStore(container string, config *AzureConfig, publicURL string) (*AzureStore, error) {
	if config == nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "Azure storage configuration is required", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeStorage, "failed to create Azure credentials", err)
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName)
	}
	serviceURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "failed to parse Azure service URL", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	return &AzureStore{
		credential:   credential,
		containerURL: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(container),
		container:    container,
		publicURL:    publicURL,
		headers:      make(map[string]azblob.BlobHTTPHeaders),
	}, nil
}

// Bucket returns the container name
func (a *AzureStore) Bucket() string {
	return a.container
}

// List returns every blob name in the container
func (a *AzureStore) List(ctx context.Context) ([]string, error) {
	var keys []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := a.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{})
		if err != nil {
			return nil, apperrors.WrapError(err, fmt.Sprintf("failed to list container %s", a.container))
		}
		for _, item := range resp.Segment.BlobItems {
			keys = append(keys, item.Name)
		}
		marker = resp.NextMarker
	}
	return keys, nil
}

// Exists reports whether key is present
func (a *AzureStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.containerURL.NewBlobURL(key).GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err == nil {
		return true, nil
	}
	if isAzureNotFound(err) {
		return false, nil
	}
	return false, apperrors.WrapError(err, fmt.Sprintf("failed to check blob %s", key))
}

// Get opens the blob body with retrying reads
func (a *AzureStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := a.containerURL.NewBlobURL(key).Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, fmt.Errorf("%s/%s: %w", a.container, key, ErrNotFound)
		}
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to download blob %s", key))
	}
	return resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3}), nil
}

// Attributes reads the blob content type and size; visibility comes from the
// container's public access level
func (a *AzureStore) Attributes(ctx context.Context, key string) (Attributes, error) {
	props, err := a.containerURL.NewBlobURL(key).GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return Attributes{}, apperrors.WrapError(err, fmt.Sprintf("failed to read properties of %s", key))
	}

	attrs := Attributes{
		ContentType: props.ContentType(),
		Size:        props.ContentLength(),
		Visibility:  VisibilityPrivate,
	}
	if attrs.ContentType == "" {
		attrs.ContentType = DefaultContentType
	}

	container, err := a.containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{})
	if err != nil {
		return Attributes{}, apperrors.WrapError(err, fmt.Sprintf("failed to read properties of container %s", a.container))
	}
	if container.BlobPublicAccess() != azblob.PublicAccessNone {
		attrs.Visibility = VisibilityPublic
	}
	return attrs, nil
}

// Put uploads body as a block blob
func (a *AzureStore) Put(ctx context.Context, key string, body io.Reader, attrs Attributes) error {
	_, err := azblob.UploadStreamToBlockBlob(ctx, body, a.containerURL.NewBlockBlobURL(key), azblob.UploadStreamToBlockBlobOptions{
		BufferSize:      4 << 20,
		MaxBuffers:      4,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: contentTypeOf(attrs)},
	})
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to upload blob %s", key))
	}
	return nil
}

// HealthCheck verifies that the container exists and is accessible
func (a *AzureStore) HealthCheck(ctx context.Context) error {
	if _, err := a.containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("Azure container %s is not accessible", a.container))
	}
	return nil
}

// CreateUpload allocates the block id namespace of an upload
func (a *AzureStore) CreateUpload(_ context.Context, _ string, attrs Attributes) (string, error) {
	id := uuid.NewString()
	a.mu.Lock()
	a.headers[id] = azblob.BlobHTTPHeaders{ContentType: contentTypeOf(attrs)}
	a.mu.Unlock()
	return id, nil
}

func (a *AzureStore) takeHeaders(uploadID string) azblob.BlobHTTPHeaders {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.headers[uploadID]
	if !ok {
		h = azblob.BlobHTTPHeaders{ContentType: DefaultContentType}
	}
	delete(a.headers, uploadID)
	return h
}

// UploadPart stages one block and returns its block id
func (a *AzureStore) UploadPart(ctx context.Context, key, uploadID string, number int, data []byte) (string, error) {
	blockID := azureBlockID(uploadID, number)
	_, err := a.containerURL.NewBlockBlobURL(key).StageBlock(ctx, blockID, bytes.NewReader(data), azblob.LeaseAccessConditions{}, nil, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return "", apperrors.WrapError(err, fmt.Sprintf("failed to stage block %d of %s", number, key))
	}
	return blockID, nil
}

// CompleteUpload commits the staged blocks in part order
func (a *AzureStore) CompleteUpload(ctx context.Context, key, uploadID string, parts []Part) error {
	headers := a.takeHeaders(uploadID)
	ids := make([]string, len(parts))
	for i, p := range parts {
		ids[i] = p.ETag
	}
	_, err := a.containerURL.NewBlockBlobURL(key).CommitBlockList(ctx, ids,
		headers, azblob.Metadata{},
		azblob.BlobAccessConditions{}, azblob.DefaultAccessTier, nil, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to commit block list of %s", key))
	}
	return nil
}

// AbortUpload forgets the upload. Uncommitted blocks are garbage collected by the service.
func (a *AzureStore) AbortUpload(_ context.Context, _ string, uploadID string) error {
	a.takeHeaders(uploadID)
	return nil
}

// MinPartSize is zero: blocks have no lower size bound
func (a *AzureStore) MinPartSize() int {
	return 0
}

// PresignGet returns a read-only SAS URL
func (a *AzureStore) PresignGet(_ context.Context, key string, expiration time.Duration) (string, error) {
	sas, err := azblob.BlobSASSignatureValues{
		Protocol:      azblob.SASProtocolHTTPS,
		ExpiryTime:    time.Now().UTC().Add(expiration),
		Permissions:   azblob.BlobSASPermissions{Read: true}.String(),
		ContainerName: a.container,
		BlobName:      key,
	}.NewSASQueryParameters(a.credential)
	if err != nil {
		return "", apperrors.WrapError(err, fmt.Sprintf("failed to sign URL for %s", key))
	}

	blobURL := a.containerURL.NewBlobURL(key).URL()
	blobURL.RawQuery = sas.Encode()
	return blobURL.String(), nil
}

// PublicURL returns the durable URL of key
func (a *AzureStore) PublicURL(key string) string {
	if a.publicURL != "" {
		return strings.TrimRight(a.publicURL, "/") + "/" + escapeKey(key)
	}
	blobURL := a.containerURL.NewBlobURL(key).URL()
	return blobURL.String()
}

func azureBlockID(uploadID string, number int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s-%06d", uploadID, number)))
}

func isAzureNotFound(err error) bool {
	var storageErr azblob.StorageError
	if errors.As(err, &storageErr) {
		if storageErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return true
		}
		resp := storageErr.Response()
		return resp != nil && resp.StatusCode == http.StatusNotFound
	}
	return false
}
