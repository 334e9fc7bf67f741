package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSSigner mints V4 signed PUT URLs for Google Cloud Storage objects.
type GCSSigner struct {
	client *storage.Client

	// accessID and privateKey pin the signing identity. When empty the client
	// resolves one from ambient credentials, falling back to the IAM
	// signBlob API.
	accessID   string
	privateKey []byte

	now func() time.Time
}

// GCSOption configures a GCSSigner.
type GCSOption func(*GCSSigner)

// WithSigningIdentity pins the service account email and PEM encoded private
// key used to sign URLs.
func WithSigningIdentity(accessID string, privateKey []byte) GCSOption {
	return func(s *GCSSigner) {
		s.accessID = accessID
		s.privateKey = privateKey
	}
}

// NewGCSSigner creates a GCSSigner. clientOpts are passed through to the
// underlying GCS client, allowing credential injection.
func NewGCSSigner(ctx context.Context, opts []GCSOption, clientOpts ...option.ClientOption) (*GCSSigner, error) {
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("failed to create GCS client: %w", err))
	}

	s := &GCSSigner{client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SignUpload returns a V4 signed URL permitting a PUT of req.ObjectName.
//
// Signing may call the IAM credentials API when no private key is available
// locally. The SDK call does not accept a context, so the wait is abandoned
// when ctx is done and the call is left to finish in the background.
func (s *GCSSigner) SignUpload(ctx context.Context, req *SignRequest) (*SignResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, Error.Wrap(err)
	}

	start := s.now()
	expiresAt := start.Add(req.Expiration)
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodPut,
		Start:   start,
		Expires: expiresAt,
	}
	if s.accessID != "" {
		opts.GoogleAccessID = s.accessID
		opts.PrivateKey = s.privateKey
	}

	type outcome struct {
		url string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		url, err := s.client.Bucket(req.Bucket).SignedURL(req.ObjectName, opts)
		done <- outcome{url: url, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, Error.Wrap(fmt.Errorf("signing %q abandoned: %w", req.ObjectName, ctx.Err()))
	case out := <-done:
		if out.err != nil {
			return nil, Error.Wrap(fmt.Errorf("failed to sign URL for %q: %w", req.ObjectName, out.err))
		}
		return &SignResult{SignedURL: out.url, ExpiresAt: expiresAt}, nil
	}
}

// Close releases the underlying GCS client.
func (s *GCSSigner) Close() error {
	return s.client.Close()
}
