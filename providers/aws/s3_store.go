package aws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// ErrInvalidURI is returned for locations that are not s3://bucket/key
var ErrInvalidURI = errors.New("invalid s3 uri")

// S3API is the subset of the S3 client used by the store
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds S3 connection settings. Endpoint and ForcePathStyle are for
// S3-compatible stores such as MinIO.
type Config struct {
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store moves datasets and model outputs between S3 and local disk
type S3Store struct {
	client S3API
	log    *zerolog.Logger
}

// NewClient builds an S3 client from the default AWS credential chain,
// overridden by any explicit settings in cfg
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1"
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

// NewS3Store creates a store on top of client
func NewS3Store(client S3API, log *zerolog.Logger) *S3Store {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &S3Store{client: client, log: log}
}

// Download copies the object at uri to the local file dest
func (s *S3Store) Download(ctx context.Context, uri, dest string) error {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return err
	}
	if key == "" || strings.HasSuffix(key, "/") {
		return fmt.Errorf("%w: %s does not name an object", ErrInvalidURI, uri)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("getting s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, out.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("writing %s: %w", dest, err)
	}

	s.log.Debug().Str("uri", uri).Int64("bytes", n).Msg("downloaded object")
	return nil
}

// UploadDir uploads every regular file under src to the prefix named by uri,
// keeping relative paths as key suffixes
func (s *S3Store) UploadDir(ctx context.Context, src, uri string) error {
	bucket, prefix, err := ParseS3URI(uri)
	if err != nil {
		return err
	}
	prefix = strings.TrimSuffix(prefix, "/")

	count := 0
	err = filepath.WalkDir(src, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		if err := s.putFile(ctx, bucket, key, p); err != nil {
			return fmt.Errorf("uploading %s: %w", rel, err)
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("uri", uri).Int("files", count).Msg("uploaded directory")
	return nil
}

func (s *S3Store) putFile(ctx context.Context, bucket, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	return err
}

// ParseS3URI splits s3://bucket/key into its bucket and key
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: missing bucket in %s", ErrInvalidURI, uri)
	}
	return bucket, key, nil
}
