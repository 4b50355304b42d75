// Package assets publishes rendered images to S3-compatible object
// storage and hands back their durable public URLs.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/wrenhsu/kaiwa/internal/httpkit"
)

// maxAssetBytes caps the download size of a rendered image (32 MB).
const maxAssetBytes = 32 << 20

// Config holds the storage connection and addressing settings.
type Config struct {
	// Endpoint is the host:port the S3 client connects to.
	Endpoint string
	// PublicBase is the externally reachable base URL, used to build the
	// published asset URL as {PublicBase}/{Bucket}/{key}.
	PublicBase string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Region     string
	UseSSL     bool
}

// Publisher uploads rendered assets and makes them publicly readable.
type Publisher struct {
	s3         *minio.Client
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

// NewPublisher connects to the object storage endpoint.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	s3, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("assets: connect to %s: %w", cfg.Endpoint, err)
	}
	return &Publisher{
		s3:         s3,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(60 * time.Second)),
		cfg:        cfg,
		logger:     logger.With("component", "assets"),
	}, nil
}

// Publish downloads the asset at sourceURL, ensures the bucket exists,
// uploads under a fresh unique key, applies a public-read policy to the
// bucket, and returns the public URL. On a policy failure the uploaded
// object is removed best-effort so no unreachable bytes are left behind.
func (p *Publisher) Publish(ctx context.Context, sourceURL string) (string, error) {
	data, err := p.download(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	if err := p.ensureBucket(ctx); err != nil {
		return "", err
	}

	key := uuid.NewString() + ".png"
	_, err = p.s3.PutObject(ctx, p.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "image/png"})
	if err != nil {
		return "", fmt.Errorf("assets: upload %s: %w", key, err)
	}

	if err := p.s3.SetBucketPolicy(ctx, p.cfg.Bucket, publicReadPolicy(p.cfg.Bucket)); err != nil {
		// The object is up but unreadable; drop it rather than orphan it.
		if rmErr := p.s3.RemoveObject(ctx, p.cfg.Bucket, key, minio.RemoveObjectOptions{}); rmErr != nil {
			p.logger.Warn("orphaned object could not be removed",
				"bucket", p.cfg.Bucket, "key", key, "error", rmErr)
		}
		return "", fmt.Errorf("assets: set bucket policy: %w", err)
	}

	publicURL := fmt.Sprintf("%s/%s/%s", p.cfg.PublicBase, p.cfg.Bucket, key)
	p.logger.Info("asset published", "key", key, "bytes", len(data))
	return publicURL, nil
}

// download fetches the rendered asset bytes from the backend.
func (p *Publisher) download(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("assets: build download request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("assets: download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("assets: download returned HTTP %d: %s",
			resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return nil, fmt.Errorf("assets: read download: %w", err)
	}
	return data, nil
}

// ensureBucket creates the target bucket if it does not exist yet.
func (p *Publisher) ensureBucket(ctx context.Context) error {
	exists, err := p.s3.BucketExists(ctx, p.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("assets: check bucket %s: %w", p.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := p.s3.MakeBucket(ctx, p.cfg.Bucket, minio.MakeBucketOptions{Region: p.cfg.Region}); err != nil {
		return fmt.Errorf("assets: create bucket %s: %w", p.cfg.Bucket, err)
	}
	return nil
}

// publicReadPolicy grants anonymous read on every object in bucket.
// Scoped to the bucket actually written to, not a fixed resource path.
func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{
		"Version": "2012-10-17",
		"Statement": [
			{
				"Effect": "Allow",
				"Principal": {"AWS": ["*"]},
				"Action": ["s3:GetObject"],
				"Resource": ["arn:aws:s3:::%s/*"]
			}
		]
	}`, bucket)
}
