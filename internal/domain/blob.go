package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage. Session exports are write-only;
// nothing in the trading core reads them back.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
