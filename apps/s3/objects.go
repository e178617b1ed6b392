package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/multierr"

	"github.com/goliatone/go-apps/core"
)

func (a *App) GetFile(ctx context.Context, app core.ConnectedAppData, filename string) (io.ReadCloser, error) {
	b := a.boundary(app, "get_file")
	b.SoftNotFound = true
	return core.Guard(ctx, b, func(ctx context.Context) (io.ReadCloser, error) {
		client, data, err := a.session(ctx, app)
		if err != nil {
			return nil, err
		}
		key, err := data.key(filename)
		if err != nil {
			return nil, err
		}
		out, err := client.GetObject(ctx, &awss3.GetObjectInput{Bucket: aws.String(data.Bucket), Key: aws.String(key)})
		if err != nil {
			if isNotFound(err) {
				return nil, core.NotFoundError(keyFileNotFound, map[string]any{"filename": filename})
			}
			return nil, classify(err)
		}
		return out.Body, nil
	})
}

// SaveFile buffers content so the upload has a known length and a sniffed
// content type.
func (a *App) SaveFile(ctx context.Context, app core.ConnectedAppData, filename string, content io.Reader) error {
	return core.GuardErr(ctx, a.boundary(app, "save_file"), func(ctx context.Context) error {
		client, data, err := a.session(ctx, app)
		if err != nil {
			return err
		}
		key, err := data.key(filename)
		if err != nil {
			return err
		}
		payload, err := io.ReadAll(content)
		if err != nil {
			return fmt.Errorf("s3: read content: %w", err)
		}
		_, err = client.PutObject(ctx, &awss3.PutObjectInput{
			Bucket:        aws.String(data.Bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(payload),
			ContentLength: aws.Int64(int64(len(payload))),
			ContentType:   aws.String(mimetype.Detect(payload).String()),
		})
		return classify(err)
	})
}

func (a *App) DeleteFile(ctx context.Context, app core.ConnectedAppData, filename string) error {
	return core.GuardErr(ctx, a.boundary(app, "delete_file"), func(ctx context.Context) error {
		client, data, err := a.session(ctx, app)
		if err != nil {
			return err
		}
		key, err := data.key(filename)
		if err != nil {
			return err
		}
		_, err = client.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: aws.String(data.Bucket), Key: aws.String(key)})
		if err != nil && !isNotFound(err) {
			return classify(err)
		}
		return nil
	})
}

// DeleteFiles removes keys in batches. Missing keys count as deleted.
func (a *App) DeleteFiles(ctx context.Context, app core.ConnectedAppData, filenames []string) error {
	return core.GuardErr(ctx, a.boundary(app, "delete_files"), func(ctx context.Context) error {
		if len(filenames) == 0 {
			return nil
		}
		client, data, err := a.session(ctx, app)
		if err != nil {
			return err
		}
		objects := make([]types.ObjectIdentifier, 0, len(filenames))
		for _, filename := range filenames {
			key, err := data.key(filename)
			if err != nil {
				return err
			}
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
		}

		var combined error
		for start := 0; start < len(objects); start += deleteBatchSize {
			end := min(start+deleteBatchSize, len(objects))
			out, err := client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
				Bucket: aws.String(data.Bucket),
				Delete: &types.Delete{Objects: objects[start:end], Quiet: aws.Bool(true)},
			})
			if err != nil {
				combined = multierr.Append(combined, classify(err))
				continue
			}
			for _, failed := range out.Errors {
				if aws.ToString(failed.Code) == "NoSuchKey" {
					continue
				}
				combined = multierr.Append(combined, fmt.Errorf("s3: delete %s: %s", aws.ToString(failed.Key), aws.ToString(failed.Message)))
			}
		}
		return combined
	})
}

func (a *App) CheckExists(ctx context.Context, app core.ConnectedAppData, filename string) (bool, error) {
	return core.Guard(ctx, a.boundary(app, "check_exists"), func(ctx context.Context) (bool, error) {
		client, data, err := a.session(ctx, app)
		if err != nil {
			return false, err
		}
		key, err := data.key(filename)
		if err != nil {
			return false, err
		}
		if _, err := client.HeadObject(ctx, &awss3.HeadObjectInput{Bucket: aws.String(data.Bucket), Key: aws.String(key)}); err != nil {
			if isNotFound(err) {
				return false, nil
			}
			return false, classify(err)
		}
		return true, nil
	})
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

// classify maps S3 error codes onto the failure kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "Forbidden", "ExpiredToken":
			return core.AuthError(keyAccessDenied, err)
		case "SlowDown", "InternalError", "ServiceUnavailable", "RequestTimeout":
			return core.TransientError(keyStorageFailed, err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return core.TransientError(keyStorageFailed, err)
		}
		return core.NewAppError(core.ErrorKindConfig, keyStorageFailed, map[string]any{"code": apiErr.ErrorCode()}, err)
	}
	return err
}
