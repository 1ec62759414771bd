package coldstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dd0wney/burrowdb/pkg/logging"
	"github.com/dd0wney/burrowdb/pkg/pools"
)

// DefaultS3Timeout bounds each object request
const DefaultS3Timeout = 30 * time.Second

// S3API is the subset of the S3 client used by S3Store
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// lsnMetadataKey names the object metadata entry that records the LSN
const lsnMetadataKey = "lsn"

// S3Options configures an S3Store. Endpoint and UsePathStyle allow
// S3-compatible services such as R2 or MinIO.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	Compress        bool
	Timeout         time.Duration
	Logger          logging.Logger
}

// S3Store keeps cold documents as objects, one per key, using the same
// encoding as FileStore.
type S3Store struct {
	client S3API
	opts   S3Options
	logger logging.Logger
	closed atomic.Bool
}

var _ Store = (*S3Store)(nil)

// OpenS3Store builds an S3 client from the default credential chain, or from
// static keys when both are set.
func OpenS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 cold store requires a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewS3Store(client, opts), nil
}

// NewS3Store wraps an existing client
func NewS3Store(client S3API, opts S3Options) *S3Store {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultS3Timeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &S3Store{
		client: client,
		opts:   opts,
		logger: logger.With(logging.Component("coldstore"), logging.String("bucket", opts.Bucket)),
	}
}

// ObjectKey returns the object key that holds key's cold copy
func (s *S3Store) ObjectKey(key string) string {
	shard, name := objectName(key)
	return path.Join(s.opts.Prefix, shard, name)
}

// Read fetches and validates key's cold copy
func (s *S3Store) Read(key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()

	doc, err := s.readDocument(ctx, key)
	if err != nil {
		return nil, err
	}
	return doc.Value, nil
}

func (s *S3Store) readDocument(ctx context.Context, key string) (*document, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.ObjectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cold object: %w", err)
	}
	defer out.Body.Close()

	buf, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read cold object: %w", err)
	}
	doc, err := decodeDocument(buf)
	if err != nil {
		s.logger.Error("cold object failed validation", logging.Key(key), logging.Error(err))
		return nil, err
	}
	if doc.Key != key {
		return nil, fmt.Errorf("%w: object for %q holds key %q", ErrCorrupt, key, doc.Key)
	}
	return doc, nil
}

// ReadLSN returns the LSN recorded in the metadata of key's cold object,
// without downloading the body. Objects written without the metadata fall
// back to the LSN in the document header.
func (s *S3Store) ReadLSN(key string) (uint64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.ObjectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to head cold object: %w", err)
	}
	if raw, ok := out.Metadata[lsnMetadataKey]; ok {
		lsn, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: object for %q has lsn metadata %q", ErrCorrupt, key, raw)
		}
		return lsn, nil
	}

	doc, err := s.readDocument(ctx, key)
	if err != nil {
		return 0, err
	}
	return doc.LSN, nil
}

// Write uploads value as key's cold copy. S3 PUTs are atomic per object.
func (s *S3Store) Write(key string, value []byte, lsn uint64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()

	body := encodeDocument(key, value, lsn, s.opts.Compress)
	defer pools.PutBytes(body)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(s.ObjectKey(key)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/octet-stream"),
		Metadata:      map[string]string{lsnMetadataKey: strconv.FormatUint(lsn, 10)},
	})
	if err != nil {
		return fmt.Errorf("failed to put cold object: %w", err)
	}
	return nil
}

// Delete removes key's cold copy. S3 reports success for absent objects.
func (s *S3Store) Delete(key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.ObjectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete cold object: %w", err)
	}
	return nil
}

func (s *S3Store) Close() error {
	s.closed.Store(true)
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
