// Package storage provides the storage authorities that mint time-limited,
// upload-authorised URLs for objects in a bucket. The GCS implementation is
// the production backend; an S3 implementation serves S3-compatible stores
// and the Signer interface allows test doubles.
package storage

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

// Error is the error class for storage authority failures.
var Error = errs.Class("storage")

// Signer mints signed upload URLs. Implementations delegate the signing to
// the provider's SDK and must not retry.
type Signer interface {
	SignUpload(ctx context.Context, req *SignRequest) (*SignResult, error)
}

// SignRequest identifies the object an upload URL is requested for.
type SignRequest struct {
	// Bucket is the bucket the object lives in.
	Bucket string

	// ObjectName is the object key within Bucket. Passed through verbatim.
	ObjectName string

	// Expiration is how long the URL remains valid.
	Expiration time.Duration
}

// SignResult is the outcome of a successful signing call.
type SignResult struct {
	// SignedURL permits a single PUT of ObjectName until ExpiresAt.
	SignedURL string

	// ExpiresAt is when the signed URL becomes invalid.
	ExpiresAt time.Time
}

// Validate reports whether the request can be handed to a provider.
func (r *SignRequest) Validate() error {
	switch {
	case r.Bucket == "":
		return Error.New("bucket is required")
	case r.ObjectName == "":
		return Error.New("object name is required")
	case r.Expiration <= 0:
		return Error.New("expiration must be positive, got %s", r.Expiration)
	}
	return nil
}
