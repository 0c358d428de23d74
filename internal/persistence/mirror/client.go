package mirror

import (
	"context"
	"fmt"
	"os"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/caarlos0/env/v11"
)

// Config selects the object store snapshots are mirrored to. Empty Bucket
// disables mirroring.
type Config struct {
	Bucket          string `env:"TAINTGRID_MIRROR_BUCKET"`
	Region          string `env:"TAINTGRID_MIRROR_REGION" envDefault:"auto"`
	Endpoint        string `env:"TAINTGRID_MIRROR_ENDPOINT"`
	Prefix          string `env:"TAINTGRID_MIRROR_PREFIX"`
	PathStyle       bool   `env:"TAINTGRID_MIRROR_PATH_STYLE"`
	AccessKeyID     string `env:"TAINTGRID_MIRROR_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"TAINTGRID_MIRROR_SECRET_ACCESS_KEY"`
	Workers         int    `env:"TAINTGRID_MIRROR_WORKERS" envDefault:"2"`
	QueueCapacity   int    `env:"TAINTGRID_MIRROR_QUEUE" envDefault:"2048"`
}

func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) Enabled() bool { return strings.TrimSpace(c.Bucket) != "" }

// Uploader puts one local file under an object key.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

// Client is an Uploader backed by an S3-compatible store (AWS S3, R2, MinIO).
type Client struct {
	s3     *s3.Client
	bucket string
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("mirror bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Client{s3: client, bucket: bucket}, nil
}

func (c *Client) PutFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String(contentType(key)),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
