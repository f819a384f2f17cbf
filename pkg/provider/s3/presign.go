package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

const presignContentType = "application/octet-stream"

// presignAPI is the slice of the presign client the caller needs.
type presignAPI interface {
	PresignPutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignDeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// presignCaller signs PutObject/DeleteObject up front and executes them as
// plain HTTP requests.
type presignCaller struct {
	presigner presignAPI
	bucket    string
	expiry    time.Duration
	client    *http.Client
}

func newPresignCaller(presigner presignAPI, cfg Config) *presignCaller {
	return &presignCaller{
		presigner: presigner,
		bucket:    cfg.Bucket,
		expiry:    cfg.PresignExpiry,
		client:    &http.Client{},
	}
}

func (c *presignCaller) putObject(ctx context.Context, key string, content io.Reader, size int64) error {
	// The Content-Type is part of the signature, so the PUT must carry the
	// exact same header.
	signed, err := c.presigner.PresignPutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(presignContentType),
	}, func(o *awss3.PresignOptions) {
		o.Expires = c.expiry
	})
	if err != nil {
		return fmt.Errorf("presigning put for %s: %w", key, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signed.URL, content)
	if err != nil {
		return ferrors.NewInternalError("building presigned put request", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", presignContentType)
	for k, vs := range signed.SignedHeader {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	return c.do(req)
}

func (c *presignCaller) deleteObject(ctx context.Context, key string) error {
	signed, err := c.presigner.PresignDeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, func(o *awss3.PresignOptions) {
		o.Expires = c.expiry
	})
	if err != nil {
		return fmt.Errorf("presigning delete for %s: %w", key, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, signed.URL, nil)
	if err != nil {
		return ferrors.NewInternalError("building presigned delete request", err)
	}

	return c.do(req)
}

func (c *presignCaller) do(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	// S3 answers 200 for PUT and 204 for DELETE.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("%s %s: StatusCode: %d", req.Method, req.URL.Path, resp.StatusCode)
}
