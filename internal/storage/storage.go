package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrUploadFailed = errors.New("upload failed")
	ErrListFailed   = errors.New("list objects failed")
)

// Gateway is the subset of object storage the deploy commands need.
type Gateway interface {
	List(ctx context.Context, bucket string) ([]Object, error)
	Put(ctx context.Context, in PutInput) (PutOutput, error)
}

type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

type PutInput struct {
	Bucket      string
	Key         string
	ContentType string
	Body        io.Reader
}

// PutOutput fields are empty when the backend does not report them.
type PutOutput struct {
	ETag      string
	VersionID string
	Location  string
}
