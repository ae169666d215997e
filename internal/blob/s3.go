package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3 archives snapshots in a single S3 or MinIO bucket; keys map to object
// keys directly.
type S3 struct {
	client *s3.Client
	bucket string
}

// S3Config holds explicit construction parameters, mostly for tests; prod
// paths rely on the environment.
type S3Config struct {
	Region    string
	Bucket    string
	Endpoint  string // optional, enables MinIO-style custom endpoints
	PathStyle bool
}

// NewS3 creates an S3 archive from cfg using the default credentials chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

// Environment variables consumed by OpenS3FromEnv:
//
//	LIVELINE_BLOB_S3_BUCKET=<bucket> (required)
//	LIVELINE_BLOB_S3_REGION=<region> (default us-east-1)
//	LIVELINE_BLOB_S3_ENDPOINT=<url> (optional, for MinIO)
//	LIVELINE_BLOB_S3_PATH_STYLE=true|false (default false)
//	AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)

// OpenS3FromEnv constructs an S3 archive from the process environment.
func OpenS3FromEnv(ctx context.Context) (*S3, error) {
	bucket := os.Getenv("LIVELINE_BLOB_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("LIVELINE_BLOB_S3_BUCKET required for s3 driver")
	}
	return NewS3(ctx, S3Config{
		Bucket:    bucket,
		Region:    os.Getenv("LIVELINE_BLOB_S3_REGION"),
		Endpoint:  os.Getenv("LIVELINE_BLOB_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("LIVELINE_BLOB_S3_PATH_STYLE"), "true"),
	})
}

func (s *S3) Driver() Driver { return DriverS3 }

func (s *S3) Put(ctx context.Context, key string, r io.Reader) (Info, error) {
	if _, err := sanitizeKey(key); err != nil {
		return Info{}, err
	}
	// Create-only is emulated via a Head probe.
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key}); err == nil {
		return Info{}, fmt.Errorf("%w: %s", ErrExists, key)
	}
	contentType := ContentType
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        r,
		ContentType: &contentType,
	}); err != nil {
		return Info{}, err
	}
	return s.head(ctx, key)
}

func (s *S3) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return Info{}, nil, err
	}
	return Info{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, out.Body, nil
}

func (s *S3) Delete(ctx context.Context, key string) (bool, error) {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]Info, error) {
	var infos []Info
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			infos = append(infos, Info{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if out.IsTruncated != nil && *out.IsTruncated && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *S3) head(ctx context.Context, key string) (Info, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return Info{}, err
	}
	lm := time.Now().UTC()
	if out.LastModified != nil {
		lm = *out.LastModified
	}
	return Info{Key: key, Size: aws.ToInt64(out.ContentLength), LastModified: lm}, nil
}
