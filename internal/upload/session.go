// Package upload implements chunked remote uploads on top of a multipart
// object store API.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "mysql-porter/internal/errors"
	"mysql-porter/internal/logging"
	"mysql-porter/internal/storage"
)

// ErrSessionClosed is returned when a finished session is used again.
var ErrSessionClosed = errors.New("upload session already finished")

// Options tune a Session
type Options struct {
	// Concurrency is the number of parts uploaded in parallel. Values below 2
	// upload parts sequentially on the caller's goroutine.
	Concurrency int
	Logger      *logging.Logger
}

// Session is one in-progress multipart upload. Parts are numbered from 1 in
// the order Write hands them over. Data shorter than the store's minimum part
// size is held back and merged with the next write, so only the final part can
// be short. A session is completed or aborted exactly once.
type Session struct {
	uploader storage.MultipartUploader
	key      string
	uploadID string
	minPart  int
	logger   *logging.Logger

	concurrent bool
	group      *errgroup.Group
	gctx       context.Context

	mu       sync.Mutex
	pending  bytes.Buffer
	next     int
	parts    []storage.Part
	bytes    int64
	err      error
	finished bool
}

// Open starts a multipart upload of key
func Open(ctx context.Context, uploader storage.MultipartUploader, key string, attrs storage.Attributes, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	uploadID, err := uploader.CreateUpload(ctx, key, attrs)
	if err != nil {
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to open upload session for %s", key))
	}

	// A store without a minimum still gets no empty parts.
	minPart := uploader.MinPartSize()
	if minPart < 1 {
		minPart = 1
	}

	group, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	if opts.Concurrency > 1 {
		group.SetLimit(opts.Concurrency)
	}

	opts.Logger.WithFields(map[string]interface{}{
		"key":       key,
		"upload_id": uploadID,
	}).Debug("Upload session opened")

	return &Session{
		uploader: uploader,
		key:      key,
		uploadID: uploadID,
		minPart:  minPart,
		logger:   opts.Logger,

		concurrent: opts.Concurrency > 1,
		group:      group,
		gctx:       gctx,
		next:       1,
	}, nil
}

// Key returns the object key being uploaded
func (s *Session) Key() string {
	return s.key
}

// UploadID returns the store's identifier of the upload
func (s *Session) UploadID() string {
	return s.uploadID
}

// Write hands data to the session as the next part. The slice is not retained.
func (s *Session) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return err
	}
	s.pending.Write(data)
	if s.pending.Len() < s.minPart {
		s.mu.Unlock()
		return nil
	}
	part := bytes.Clone(s.pending.Bytes())
	s.pending.Reset()
	number := s.next
	s.next++
	s.mu.Unlock()

	s.submit(ctx, number, part)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) submit(ctx context.Context, number int, data []byte) {
	if !s.concurrent {
		s.uploadPart(ctx, number, data)
		return
	}
	s.group.Go(func() error {
		if err := s.gctx.Err(); err != nil {
			return err
		}
		return s.uploadPart(ctx, number, data)
	})
}

func (s *Session) uploadPart(ctx context.Context, number int, data []byte) error {
	if err := ctx.Err(); err != nil {
		s.fail(err)
		return err
	}

	etag, err := s.uploader.UploadPart(ctx, s.key, s.uploadID, number, data)
	s.logger.LogPartUpload(s.key, number, len(data), etag, err)
	if err != nil {
		err = apperrors.WrapError(err, fmt.Sprintf("failed to upload part %d of %s", number, s.key))
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.parts = append(s.parts, storage.Part{Number: number, ETag: etag, Size: len(data)})
	s.bytes += int64(len(data))
	s.mu.Unlock()
	return nil
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Complete uploads any held-back data as the final part, waits for every
// outstanding part and finalizes the upload. On any failure the upload is
// aborted before the error is returned.
func (s *Session) Complete(ctx context.Context) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	var last []byte
	if s.err == nil && (s.pending.Len() > 0 || s.next == 1) {
		last = bytes.Clone(s.pending.Bytes())
		s.pending.Reset()
	}
	number := s.next
	if last != nil {
		s.next++
	}
	s.mu.Unlock()

	if last != nil {
		s.submit(ctx, number, last)
	}

	if err := s.wait(); err != nil {
		return s.abortWith(ctx, err)
	}

	s.mu.Lock()
	parts := s.sortedParts()
	s.mu.Unlock()

	if err := ValidateParts(parts); err != nil {
		return s.abortWith(ctx, err)
	}
	if err := s.uploader.CompleteUpload(ctx, s.key, s.uploadID, parts); err != nil {
		return s.abortWith(ctx, apperrors.WrapError(err, fmt.Sprintf("failed to complete upload of %s", s.key)))
	}

	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"key":   s.key,
		"parts": len(parts),
		"bytes": s.bytes,
	}).Info("Upload completed")
	return nil
}

// Abort discards the upload. Calling Abort on a finished session is a no-op.
func (s *Session) Abort(ctx context.Context) error {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.wait()
	return s.abort(ctx)
}

func (s *Session) abortWith(ctx context.Context, cause error) error {
	if err := s.abort(ctx); err != nil {
		s.logger.WithField("key", s.key).WithError(err).Warn("Failed to abort upload session")
	}
	return cause
}

func (s *Session) abort(ctx context.Context) error {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()

	err := s.uploader.AbortUpload(context.WithoutCancel(ctx), s.key, s.uploadID)
	s.logger.WithFields(map[string]interface{}{
		"key":       s.key,
		"upload_id": s.uploadID,
	}).Warn("Upload session aborted")
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to abort upload of %s", s.key))
	}
	return nil
}

func (s *Session) wait() error {
	err := s.group.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return err
}

// Parts returns the uploaded parts ordered by number
func (s *Session) Parts() []storage.Part {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedParts()
}

// Bytes returns the number of bytes uploaded so far
func (s *Session) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *Session) sortedParts() []storage.Part {
	parts := append([]storage.Part(nil), s.parts...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts
}

// ValidateParts checks that parts are numbered exactly 1..N.
func ValidateParts(parts []storage.Part) error {
	if len(parts) == 0 {
		return apperrors.NewAppError(apperrors.ErrorTypeValidation, "upload has no parts", nil)
	}
	for i, p := range parts {
		if p.Number != i+1 {
			return apperrors.NewAppError(apperrors.ErrorTypeValidation,
				fmt.Sprintf("upload parts are not contiguous: position %d holds part %d", i+1, p.Number), nil)
		}
	}
	return nil
}

// Link returns a download URL for the uploaded object: a signed URL valid for
// expiration, or the durable public URL when expiration is zero.
func Link(ctx context.Context, signer storage.URLSigner, key string, expiration time.Duration) (string, error) {
	if expiration <= 0 {
		return signer.PublicURL(key), nil
	}
	return signer.PresignGet(ctx, key, expiration)
}
