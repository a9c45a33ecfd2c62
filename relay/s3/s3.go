// Package s3 implements relay.Adapter over an S3-compatible object store
// using github.com/aws/aws-sdk-go, the object-storage client the rest of
// the retrieval pack (NVIDIA/aistore) also depends on directly. S3's
// PutObject is already atomic at the object level, so no put-then-rename
// emulation is needed (spec §4.1).
package s3

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/relay"
)

func init() {
	relay.Register("s3", New)
}

type adapter struct {
	client *s3.S3
	bucket string
	prefix string
}

// New dials an S3-compatible bucket. opts.Root is "bucket" or
// "bucket/prefix"; opts.Addr, if set, overrides the endpoint for
// S3-compatible (non-AWS) object stores.
func New(_ context.Context, opts *relay.Opts) (relay.Adapter, error) {
	const op = "relay/s3.New"
	if opts == nil || opts.Root == "" {
		return nil, errors.E(op, errors.ConfigError, errors.Str("bucket must be specified as Root"))
	}
	bucket, prefix, _ := strings.Cut(opts.Root, "/")

	cfg := aws.NewConfig()
	if opts.Addr != "" {
		cfg = cfg.WithEndpoint(opts.Addr).WithS3ForcePathStyle(true)
	}
	if opts.User != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(opts.User, opts.Password, ""))
	}
	if region, ok := opts.Params["region"]; ok {
		cfg = cfg.WithRegion(region)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.E(op, errors.RelayPermanent, err)
	}
	return &adapter{client: s3.New(sess), bucket: bucket, prefix: prefix}, nil
}

var _ relay.Adapter = (*adapter)(nil)

func (a *adapter) key(name string) string {
	if a.prefix == "" {
		return name
	}
	return a.prefix + "/" + name
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound") {
		return errors.E(op, errors.NotExist, err)
	}
	if strings.Contains(err.Error(), "AccessDenied") || strings.Contains(err.Error(), "Forbidden") {
		return errors.E(op, errors.RelayPermanent, err)
	}
	return errors.E(op, errors.RelayTransient, err)
}

func (a *adapter) List(ctx context.Context, prefix string) ([]relay.Info, error) {
	const op = "relay/s3.List"
	var out []relay.Info
	err := a.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.key(prefix)),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			name := aws.StringValue(obj.Key)
			if a.prefix != "" {
				name = strings.TrimPrefix(name, a.prefix+"/")
			}
			out = append(out, relay.Info{
				Name:  name,
				Size:  aws.Int64Value(obj.Size),
				Mtime: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

func (a *adapter) Get(ctx context.Context, name string) ([]byte, error) {
	const op = "relay/s3.Get"
	out, err := a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(name)),
	})
	if err != nil {
		return nil, classify(op, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.E(op, errors.RelayTransient, err)
	}
	return b, nil
}

func (a *adapter) GetTo(ctx context.Context, name, localFile string) error {
	const op = "relay/s3.GetTo"
	b, err := a.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(localFile, b, 0600); err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	return nil
}

func (a *adapter) Put(ctx context.Context, name string, data []byte) error {
	const op = "relay/s3.Put"
	_, err := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return classify(op, err)
	}
	return nil
}

func (a *adapter) PutFrom(ctx context.Context, name, localFile string) error {
	const op = "relay/s3.PutFrom"
	f, err := os.Open(localFile)
	if err != nil {
		return errors.E(op, errors.LocalIOError, err)
	}
	defer f.Close()
	_, err = a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(name)),
		Body:   f,
	})
	if err != nil {
		return classify(op, err)
	}
	return nil
}

func (a *adapter) Delete(ctx context.Context, name string) error {
	const op = "relay/s3.Delete"
	_, err := a.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(name)),
	})
	if err != nil {
		return classify(op, err)
	}
	return nil
}

func (a *adapter) Exists(ctx context.Context, name string) (bool, error) {
	const op = "relay/s3.Exists"
	_, err := a.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(name)),
	})
	if err != nil {
		if errors.Is(errors.NotExist, classify(op, err)) {
			return false, nil
		}
		return false, classify(op, err)
	}
	return true, nil
}

func (a *adapter) Size(ctx context.Context, name string) (int64, error) {
	const op = "relay/s3.Size"
	out, err := a.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(name)),
	})
	if err != nil {
		return 0, classify(op, err)
	}
	return aws.Int64Value(out.ContentLength), nil
}

func (a *adapter) Mtime(ctx context.Context, name string) (time.Time, error) {
	const op = "relay/s3.Mtime"
	out, err := a.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(name)),
	})
	if err != nil {
		return time.Time{}, classify(op, err)
	}
	return aws.TimeValue(out.LastModified), nil
}

func (a *adapter) Touch(ctx context.Context, name string) error {
	// S3 has no touch primitive; copy the object onto itself to bump
	// its LastModified timestamp.
	const op = "relay/s3.Touch"
	src := a.bucket + "/" + a.key(name)
	_, err := a.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(a.bucket),
		Key:               aws.String(a.key(name)),
		CopySource:        aws.String(src),
		MetadataDirective: aws.String(s3.MetadataDirectiveReplace),
	})
	if err != nil {
		return classify(op, err)
	}
	return nil
}

func (a *adapter) Forbidden() string {
	// S3 object keys reserve these characters for special handling in
	// some S3-compatible backends (notably the "?" query delimiter).
	return "?#[]"
}

func (a *adapter) Close() error { return nil }
