package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/l0p7/thumbproxy/internal/thumb"
)

const defaultSignedURLTTL = 30 * time.Second

type headObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Options configures an S3 backed Store.
type Options struct {
	Bucket       string
	SignedURLTTL time.Duration
}

// Store answers existence checks and hands out time limited read URLs for
// cached thumbnails kept in a single bucket.
type Store struct {
	head    headObjectAPI
	presign presignAPI
	bucket  string
	ttl     time.Duration
	logger  *slog.Logger
}

// New wires a Store to an S3 client.
func New(client *s3.Client, logger *slog.Logger, opts Options) (*Store, error) {
	if client == nil {
		return nil, errors.New("store: s3 client required")
	}
	return newStore(client, s3.NewPresignClient(client), logger, opts)
}

func newStore(head headObjectAPI, presign presignAPI, logger *slog.Logger, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("store: bucket required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.SignedURLTTL
	if ttl <= 0 {
		ttl = defaultSignedURLTTL
	}
	return &Store{
		head:    head,
		presign: presign,
		bucket:  opts.Bucket,
		ttl:     ttl,
		logger:  logger.With(slog.String("agent", "cache_store"), slog.String("bucket", opts.Bucket)),
	}, nil
}

// Exists performs a metadata only check for the cached object. A missing
// object is reported as (false, nil); anything else that fails is an error.
func (s *Store) Exists(ctx context.Context, id thumb.ItemID) (bool, error) {
	key := id.CacheKey()
	_, err := s.head.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("store: head %s: %w", key, err)
}

// SignedURL returns a pre-authorized GET URL for the cached object, valid for
// the configured TTL.
func (s *Store) SignedURL(ctx context.Context, id thumb.ItemID) (string, error) {
	key := id.CacheKey()
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("store: presign %s: %w", key, err)
	}
	return req.URL, nil
}

// TTL reports how long signed URLs stay valid.
func (s *Store) TTL() time.Duration { return s.ttl }

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
