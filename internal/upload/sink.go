package upload

import (
	"context"
	"time"

	"mysql-porter/internal/storage"
)

// Sink streams export chunks into a multipart upload and returns a download
// link for the object once the upload completes.
type Sink struct {
	session    *Session
	signer     storage.URLSigner
	expiration time.Duration
}

// NewSink opens an upload session for key on provider. expiration selects a
// signed link; zero selects the public URL.
func NewSink(ctx context.Context, provider storage.Provider, key string, attrs storage.Attributes, expiration time.Duration, opts Options) (*Sink, error) {
	session, err := Open(ctx, provider, key, attrs, opts)
	if err != nil {
		return nil, err
	}
	return &Sink{session: session, signer: provider, expiration: expiration}, nil
}

// Session exposes the underlying upload session
func (s *Sink) Session() *Session {
	return s.session
}

func (s *Sink) WriteChunk(ctx context.Context, chunk []byte) error {
	return s.session.Write(ctx, chunk)
}

// Close completes the upload and returns the object link
func (s *Sink) Close(ctx context.Context) (string, error) {
	if err := s.session.Complete(ctx); err != nil {
		return "", err
	}
	return Link(ctx, s.signer, s.session.Key(), s.expiration)
}

func (s *Sink) Abort(ctx context.Context) error {
	return s.session.Abort(ctx)
}
