// Package s3 stores assets in an S3 compatible bucket.
package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/goliatone/go-apps/core"
	"github.com/goliatone/go-apps/security"
)

const (
	Name = "s3"

	requestSaveSetting = "save"

	keyConnected       = "s3.statusText.successfully_connected"
	keyInvalidSettings = "s3.statusText.invalid_settings"
	keyAccessDenied    = "s3.statusText.access_denied"
	keyBucketNotFound  = "s3.statusText.bucket_not_found"
	keyInvalidFilename = "s3.statusText.invalid_filename"
	keyFileNotFound    = "s3.statusText.file_not_found"
	keyRequestFailed   = "s3.statusText.error_processing_request"
	keyStorageFailed   = "s3.statusText.error_accessing_storage"

	// deleteBatchSize is the DeleteObjects limit.
	deleteBatchSize = 1000
)

// ObjectAPI is the part of the S3 client the adapter uses.
type ObjectAPI interface {
	HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *awss3.DeleteObjectsInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error)
}

// ClientFactory builds a client for the stored settings. secretKey is
// plaintext.
type ClientFactory func(ctx context.Context, data AppData, secretKey string) (ObjectAPI, error)

type Settings struct {
	Codec     *security.TokenCodec
	NewClient ClientFactory
}

// AppData is stored on the connected app. SecretAccessKey holds ciphertext.
type AppData struct {
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	Endpoint        string `json:"endpoint,omitempty"`
	Prefix          string `json:"prefix,omitempty"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	ForcePathStyle  bool   `json:"forcePathStyle,omitempty"`
}

func (d AppData) validate() error {
	switch {
	case strings.TrimSpace(d.Bucket) == "":
		return core.ConfigError(keyInvalidSettings, map[string]any{"field": "bucket"})
	case strings.TrimSpace(d.Region) == "":
		return core.ConfigError(keyInvalidSettings, map[string]any{"field": "region"})
	case strings.TrimSpace(d.AccessKeyID) == "":
		return core.ConfigError(keyInvalidSettings, map[string]any{"field": "accessKeyId"})
	}
	return nil
}

// key maps filename under the configured prefix.
func (d AppData) key(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" || strings.HasPrefix(name, "/") {
		return "", core.ConfigError(keyInvalidFilename, map[string]any{"filename": filename})
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return "", core.ConfigError(keyInvalidFilename, map[string]any{"filename": filename})
		}
	}
	prefix := strings.Trim(strings.TrimSpace(d.Prefix), "/")
	if prefix == "" {
		return path.Clean(name), nil
	}
	return prefix + "/" + path.Clean(name), nil
}

// DefaultClientFactory loads the AWS configuration with static credentials.
func DefaultClientFactory(ctx context.Context, data AppData, secretKey string) (ObjectAPI, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(data.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(data.AccessKeyID, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	return awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		if endpoint := strings.TrimSpace(data.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = data.ForcePathStyle
	}), nil
}

type App struct {
	props    core.Props
	settings Settings
}

var (
	_ core.RequestProcessor = (*App)(nil)
	_ core.AssetsStorage    = (*App)(nil)
)

func New(settings Settings) core.AppFactory {
	if settings.NewClient == nil {
		settings.NewClient = DefaultClientFactory
	}
	return func(props core.Props) core.App {
		return &App{props: props, settings: settings}
	}
}

func (a *App) Name() string {
	return Name
}

func (a *App) boundary(app core.ConnectedAppData, operation string) core.Boundary {
	return core.Boundary{
		Props:       a.props,
		App:         app,
		Operation:   Name + "." + operation,
		FallbackKey: keyStorageFailed,
		SuccessKey:  keyConnected,
	}
}

func (a *App) ProcessRequest(ctx context.Context, app core.ConnectedAppData, payload json.RawMessage) (any, error) {
	req, err := core.DecodeRequest(payload)
	if err != nil {
		return nil, err
	}
	switch req.Type {
	case "", requestSaveSetting:
		var input AppData
		if err := req.DecodeData(payload, &input); err != nil {
			return nil, err
		}
		b := a.boundary(app, "save")
		b.FallbackKey = keyRequestFailed
		return core.Guard(ctx, b, func(ctx context.Context) (core.StatusWithText, error) {
			return a.save(ctx, app, input)
		})
	default:
		return nil, core.UnknownRequestError(Name, req.Type)
	}
}

// save checks the bucket with the submitted keys before persisting them.
func (a *App) save(ctx context.Context, app core.ConnectedAppData, input AppData) (core.StatusWithText, error) {
	if err := input.validate(); err != nil {
		return core.StatusWithText{}, err
	}
	secret := input.SecretAccessKey
	if secret == "" {
		var stored AppData
		if err := app.DecodeData(&stored); err == nil && stored.SecretAccessKey != "" {
			plaintext, err := a.decrypt(ctx, stored.SecretAccessKey)
			if err != nil {
				return core.StatusWithText{}, err
			}
			secret = plaintext
		}
	}
	if secret == "" {
		return core.StatusWithText{}, core.ConfigError(keyInvalidSettings, map[string]any{"field": "secretAccessKey"})
	}
	client, err := a.settings.NewClient(ctx, input, secret)
	if err != nil {
		return core.StatusWithText{}, core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, nil, err)
	}
	if _, err := client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(input.Bucket)}); err != nil {
		if isNotFound(err) {
			return core.StatusWithText{}, core.NotFoundError(keyBucketNotFound, map[string]any{"bucket": input.Bucket})
		}
		return core.StatusWithText{}, classify(err)
	}
	if a.settings.Codec == nil {
		return core.StatusWithText{}, core.NewAppError(core.ErrorKindConfig, keyRequestFailed, nil, fmt.Errorf("s3: credential codec is not configured"))
	}
	sealed, err := a.settings.Codec.EncryptString(ctx, secret)
	if err != nil {
		return core.StatusWithText{}, err
	}
	input.SecretAccessKey = sealed

	status := core.ConnectedStatus(keyConnected, map[string]any{"bucket": input.Bucket})
	update, err := core.StatusUpdate(status).WithData(input)
	if err != nil {
		return core.StatusWithText{}, err
	}
	if a.props.Update != nil {
		if err := a.props.Update(ctx, update); err != nil {
			return core.StatusWithText{}, err
		}
	}
	return status, nil
}

func (a *App) decrypt(ctx context.Context, ciphertext string) (string, error) {
	if a.settings.Codec == nil {
		return "", core.NewAppError(core.ErrorKindConfig, keyRequestFailed, nil, fmt.Errorf("s3: credential codec is not configured"))
	}
	plaintext, err := a.settings.Codec.DecryptString(ctx, ciphertext)
	if err != nil {
		return "", core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, nil, err)
	}
	return plaintext, nil
}

func (a *App) session(ctx context.Context, app core.ConnectedAppData) (ObjectAPI, AppData, error) {
	var data AppData
	if err := app.DecodeData(&data); err != nil {
		return nil, AppData{}, core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, nil, err)
	}
	if err := data.validate(); err != nil {
		return nil, AppData{}, err
	}
	secret, err := a.decrypt(ctx, data.SecretAccessKey)
	if err != nil {
		return nil, AppData{}, err
	}
	client, err := a.settings.NewClient(ctx, data, secret)
	if err != nil {
		return nil, AppData{}, core.NewAppError(core.ErrorKindConfig, keyInvalidSettings, nil, err)
	}
	return client, data, nil
}
