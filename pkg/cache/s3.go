package cache

import (
	"context"
	"io"
	"os"
	"strings"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
	"github.com/beamflow/beamflow/pkg/storage/s3"
)

// S3Backend stores entries as objects in a bucket.
type S3Backend struct {
	client *s3.Client
	prefix string
}

// NewS3Backend creates a backend that stores keys under prefix.
func NewS3Backend(client *s3.Client, prefix string) *S3Backend {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Backend{client: client, prefix: prefix}
}

func (b *S3Backend) key(key string) string {
	return b.prefix + key
}

// Get reads an entry.
func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := b.client.Reader(ctx, b.key(key))
	if err != nil {
		if bferrors.IsCode(err, bferrors.CodeFileNotFound) {
			return nil, os.ErrNotExist
		}
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, bferrors.Wrap(err, bferrors.CodeReadFailed, "read cache object").With("key", key)
	}
	return data, nil
}

// Put writes an entry with its metadata as object metadata.
func (b *S3Backend) Put(ctx context.Context, key string, data []byte, meta map[string]string) error {
	return b.client.Put(ctx, b.key(key), data, s3.WriteOptions{
		ContentType: "application/gzip",
		Metadata:    meta,
	})
}

// Delete removes an entry.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	return b.client.Delete(ctx, b.key(key))
}

// List lists the objects under prefix.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	objs, err := b.client.ListAll(ctx, b.key(prefix))
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(objs))
	for i, o := range objs {
		keys[i] = strings.TrimPrefix(o.Key, b.prefix)
	}
	return keys, nil
}

// Name returns "s3".
func (b *S3Backend) Name() string {
	return "s3"
}
