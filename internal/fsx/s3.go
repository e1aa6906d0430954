package fsx

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/pkg/errors"
)

// S3 is the FileSystem backend for s3:// URIs, one of aistore's cloud
// backends adopted here for the model-directory/file-set external
// collaborator contract.
type S3 struct {
	bucket   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3 constructs an S3 backend rooted at bucket, using the process's
// default AWS credential chain.
func NewS3(bucket string) (*S3, error) {
	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, "fsx/s3: load aws config")
	}
	client := s3.NewFromConfig(cfg)
	return &S3{bucket: bucket, client: client, uploader: manager.NewUploader(client)}, nil
}

// Open implements FileSystem.
func (b *S3) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key(path))})
	if err != nil {
		return nil, errors.Wrapf(err, "fsx/s3: get %s", path)
	}
	return out.Body, nil
}

// s3WriteCloser buffers writes and uploads on Close, since s3 has no
// append/stream-write primitive.
type s3WriteCloser struct {
	buf  bytes.Buffer
	key  string
	up   func(key string, body io.Reader) error
}

func (w *s3WriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *s3WriteCloser) Close() error                { return w.up(w.key, &w.buf) }

// Create implements FileSystem.
func (b *S3) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	return &s3WriteCloser{
		key: key(path),
		up: func(k string, body io.Reader) error {
			_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(k), Body: body})
			return errors.Wrapf(err, "fsx/s3: put %s", k)
		},
	}, nil
}

// List implements FileSystem.
func (b *S3) List(ctx context.Context, dir string) ([]string, error) {
	prefix := key(dir) + "/"
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket), Prefix: aws.String(prefix), Delimiter: aws.String("/"),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fsx/s3: list %s", dir)
	}
	names := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
	}
	return names, nil
}

// Mkdir implements FileSystem. S3 has no directories; this is a no-op.
func (b *S3) Mkdir(context.Context, string) error { return nil }

// Rename implements FileSystem via copy+delete, since S3 has no native
// rename.
func (b *S3) Rename(ctx context.Context, oldPath, newPath string) error {
	src := b.bucket + "/" + key(oldPath)
	if _, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket: aws.String(b.bucket), Key: aws.String(key(newPath)), CopySource: aws.String(src),
	}); err != nil {
		return errors.Wrapf(err, "fsx/s3: copy %s -> %s", oldPath, newPath)
	}
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key(oldPath))})
	return errors.Wrapf(err, "fsx/s3: delete %s", oldPath)
}

// Exists implements FileSystem.
func (b *S3) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key(path))})
	if err == nil {
		return true, nil
	}
	var notFound *smithyhttp.ResponseError
	if stderrors.As(err, &notFound) && notFound.HTTPStatusCode() == 404 {
		return false, nil
	}
	return false, errors.Wrapf(err, "fsx/s3: head %s", path)
}

func key(path string) string { return strings.TrimPrefix(path, "/") }
