package publish

import (
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3Provider uploads to an S3 or S3-compatible bucket.
type S3Provider struct {
	api    s3iface.S3API
	bucket string
}

// NewS3Provider uses static credentials when a key is set and path-style
// addressing so custom endpoints work.
func NewS3Provider(s Settings) *S3Provider {
	cfg := &aws.Config{
		Region:           aws.String(s.Region),
		S3ForcePathStyle: aws.Bool(true),
	}
	if s.Endpoint != "" {
		cfg.Endpoint = aws.String(s.Endpoint)
	}
	if s.KeyID != "" {
		cfg.Credentials = credentials.NewStaticCredentials(s.KeyID, s.AppKey, "")
	}
	sess := session.Must(session.NewSession(cfg))
	return &S3Provider{api: s3.New(sess), bucket: s.Bucket}
}

func (s *S3Provider) Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	_, err := s.api.PutObjectWithContext(ctx, input)
	return err
}

func (s *S3Provider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.api.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) && (aerr.Code() == "NotFound" || aerr.Code() == s3.ErrCodeNoSuchKey) {
		return false, nil
	}
	return false, err
}
