// Package archive uploads CSV snapshots of the equipment table to an
// S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/kasuganosora/equipets/config"
	"github.com/kasuganosora/equipets/model"
	"github.com/kasuganosora/equipets/sheet"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ErrDisabled is returned by New when archiving is switched off.
var ErrDisabled = errors.New("archive: disabled")

// ObjectPutter is the part of the MinIO client the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver writes equipment snapshots to object storage.
type Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// New connects to the configured endpoint and makes sure the bucket exists.
func New(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("archive: bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("archive: make bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("archive bucket created", zap.String("bucket", cfg.Bucket))
	}
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithClient builds an Archiver over an existing client.
func NewWithClient(client ObjectPutter, bucket, prefix string, logger *zap.Logger) *Archiver {
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
		logger: logger,
	}
}

// ObjectKey names the snapshot taken at t: <prefix>/equipment-YYYYMMDD-HHMMSS.csv.
func ObjectKey(prefix string, t time.Time) string {
	name := "equipment-" + t.UTC().Format("20060102-150405") + ".csv"
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Upload writes rows as CSV and returns the object key.
func (a *Archiver) Upload(ctx context.Context, rows []model.Equipment) (string, error) {
	var buf bytes.Buffer
	if err := sheet.WriteEquipmentCSV(&buf, rows); err != nil {
		return "", fmt.Errorf("archive: encode csv: %w", err)
	}
	key := ObjectKey(a.prefix, a.now())
	info, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "text/csv; charset=utf-8"})
	if err != nil {
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}
	a.logger.Info("snapshot archived",
		zap.String("bucket", a.bucket),
		zap.String("key", key),
		zap.Int("rows", len(rows)),
		zap.Int64("size", info.Size))
	return key, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
