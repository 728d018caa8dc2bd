package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/rs/zerolog/log"

	"github.com/kgantsov/s3lease/internal/domain"
)

// S3Storage implements ObjectStore on top of an S3-compatible service using
// conditional PutObject requests: If-None-Match: * for create-if-absent and
// If-Match: <etag> for version-guarded updates. ETags are the version tokens
// and are passed around verbatim, quotes included.
type S3Storage struct {
	client *s3.Client
	bucket string
	region string
}

func NewS3Storage(client *s3.Client, bucket string, region string) *S3Storage {
	return &S3Storage{
		client: client,
		bucket: bucket,
		region: region,
	}
}

func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	}
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}

	_, err := s.client.CreateBucket(ctx, input)
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return s.classify("ensure bucket", s.bucket, err, true)
	}

	log.Debug().Msgf("Created bucket %s", s.bucket)
	return nil
}

func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = s.classify("check object", key, err, false)
		if errors.Is(err, domain.ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3Storage) Get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", s.classify("get object", key, err, false)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", s.classify("get object", key, err, false)
	}

	return data, aws.ToString(out.ETag), nil
}

func (s *S3Storage) Create(ctx context.Context, key string, body []byte) (string, error) {
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		return "", s.classify("create object", key, err, true)
	}
	return aws.ToString(out.ETag), nil
}

func (s *S3Storage) Update(ctx context.Context, key string, body []byte, version string) (string, error) {
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfMatch:     aws.String(version),
	})
	if err != nil {
		return "", s.classify("update object", key, err, true)
	}
	return aws.ToString(out.ETag), nil
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	// S3 reports success for deletes of absent keys, so the not-found
	// branch never happens here.
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return s.classify("delete object", key, err, true)
	}
	return nil
}

func (s *S3Storage) Close() error {
	return nil
}

// classify maps an S3 SDK error onto the domain taxonomy. mutation marks
// operations whose server-side effect cannot be confirmed once the deadline
// expires.
func (s *S3Storage) classify(op string, key string, err error, mutation bool) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.TimeoutError{Op: op, Name: key, OutcomeUnknown: mutation}
	}

	code := ""
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}

	status := 0
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	switch {
	case code == "PreconditionFailed" || code == "ConditionalRequestConflict" ||
		status == http.StatusPreconditionFailed || status == http.StatusConflict:
		return domain.ErrPreconditionFailed
	case code == "NoSuchKey" || code == "NotFound" || status == http.StatusNotFound:
		return domain.ErrObjectNotFound
	case code == "AccessDenied" || code == "InvalidAccessKeyId" ||
		code == "SignatureDoesNotMatch" || code == "ExpiredToken" ||
		status == http.StatusForbidden || status == http.StatusUnauthorized:
		return &domain.AuthError{Op: op, Name: key, Code: code}
	default:
		return &domain.RequestError{Op: op, Name: key, Code: code, Status: status, Err: err}
	}
}
