package storage

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors the handlers translate into HTTP responses: ErrUnavailable
// becomes 424 (failed dependency), ErrObjectMissing triggers the is_missing
// repair path.
var (
	ErrObjectMissing = errors.New("remote object does not exist")
	ErrUnavailable   = errors.New("remote storage unavailable")
)

type ObjectInfo struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// Remote is the file-share backend the mirror metadata points at.
type Remote interface {
	EnsureBucket(ctx context.Context) error
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	Exists(ctx context.Context, objectName string) (bool, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, objectName string) error
}
