package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/kasuganosora/equipets/config"
	"github.com/kasuganosora/equipets/model"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePutter struct {
	bucket, key, contentType string
	body                     string
	err                      error
}

func (f *fakePutter) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64,
	opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	b, _ := io.ReadAll(r)
	f.bucket, f.key, f.body, f.contentType = bucket, key, string(b), opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2025, 9, 9, 7, 5, 3, 0, time.UTC)
	assert.Equal(t, "snapshots/equipment-20250909-070503.csv", ObjectKey("snapshots", at))
	assert.Equal(t, "a/b/equipment-20250909-070503.csv", ObjectKey("/a/b/", at))
	assert.Equal(t, "equipment-20250909-070503.csv", ObjectKey("", at))
}

func TestUpload(t *testing.T) {
	fake := &fakePutter{}
	a := NewWithClient(fake, "equipets", "snapshots", zap.NewNop())
	a.now = func() time.Time { return time.Date(2025, 9, 9, 0, 0, 0, 0, time.UTC) }

	key, err := a.Upload(context.Background(), []model.Equipment{
		{MachineID: "FL-01", Level: 2, XP: 5, Health: 80},
	})
	require.NoError(t, err)
	assert.Equal(t, "snapshots/equipment-20250909-000000.csv", key)
	assert.Equal(t, "equipets", fake.bucket)
	assert.True(t, strings.HasPrefix(fake.contentType, "text/csv"))
	assert.Contains(t, fake.body, "machine_id,machine_name")
	assert.Contains(t, fake.body, "FL-01,,,2,5,80,")
}

func TestUpload_Error(t *testing.T) {
	a := NewWithClient(&fakePutter{err: errors.New("denied")}, "b", "", zap.NewNop())
	_, err := a.Upload(context.Background(), nil)
	assert.ErrorContains(t, err, "denied")
}

func TestNew_Disabled(t *testing.T) {
	_, err := New(context.Background(), config.ArchiveConfig{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = New(context.Background(), config.ArchiveConfig{Enabled: true}, zap.NewNop())
	assert.Error(t, err)
}
