package dataset

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Source reads a snapshot object from Amazon S3. Credentials and region come
// from the default AWS configuration chain unless Client is set.
type S3Source struct {
	Bucket string
	Key    string
	Format Format
	Client *s3.Client
}

func (s *S3Source) Location() string {
	return "s3://" + path.Join(s.Bucket, s.Key)
}

// Rows implements Source.
func (s *S3Source) Rows(ctx context.Context) ([]Row, error) {
	if s.Bucket == "" || s.Key == "" {
		return nil, notFound(s.Location(), errors.New("bucket and key are required"))
	}

	client := s.Client
	if client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, notFound(s.Location(), fmt.Errorf("load aws config: %w", err))
		}
		client = s3.NewFromConfig(cfg)
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, notFound(s.Location(), errors.New("no such key"))
		}
		return nil, notFound(s.Location(), err)
	}

	return decodeBlob(out.Body, s.Key, s.Format)
}

// MinioSource reads a snapshot object from MinIO or another S3-compatible
// store. Credentials are read from MINIO_ACCESS_KEY and MINIO_SECRET_KEY
// (or MINIO_ROOT_USER and MINIO_ROOT_PASSWORD) unless Client is set.
type MinioSource struct {
	Endpoint string
	Secure   bool
	Bucket   string
	Key      string
	Format   Format
	Client   *minio.Client
}

// newMinioSource parses minio://endpoint/bucket/key[?secure=true].
func newMinioSource(u *url.URL, format Format) (*MinioSource, error) {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("minio location %q must be minio://endpoint/bucket/key", u.String())
	}

	secure := false
	if v := u.Query().Get("secure"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("minio location: invalid secure value %q", v)
		}
		secure = b
	}

	return &MinioSource{
		Endpoint: u.Host,
		Secure:   secure,
		Bucket:   bucket,
		Key:      key,
		Format:   format,
	}, nil
}

func (s *MinioSource) Location() string {
	return "minio://" + path.Join(s.Endpoint, s.Bucket, s.Key)
}

// Rows implements Source.
func (s *MinioSource) Rows(ctx context.Context) ([]Row, error) {
	client := s.Client
	if client == nil {
		c, err := minio.New(s.Endpoint, &minio.Options{
			Creds:  credentials.NewEnvMinio(),
			Secure: s.Secure,
		})
		if err != nil {
			return nil, notFound(s.Location(), fmt.Errorf("create minio client: %w", err))
		}
		client = c
	}

	obj, err := client.GetObject(ctx, s.Bucket, s.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, notFound(s.Location(), err)
	}

	// GetObject is lazy; Stat surfaces a missing object before decoding starts.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, notFound(s.Location(), errors.New("no such key"))
		}
		return nil, notFound(s.Location(), err)
	}

	return decodeBlob(obj, s.Key, s.Format)
}
