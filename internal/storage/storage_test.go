package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/romsort/internal/config"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "report.csv", Key("", "report.csv"))
	assert.Equal(t, "runs/2024/report.csv", Key("/runs/2024/", "report.csv"))
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "", normalizeEndpoint(" "))
	assert.Equal(t, "https://minio.local:9000", normalizeEndpoint("minio.local:9000"))
	assert.Equal(t, "http://127.0.0.1:9000", normalizeEndpoint("http://127.0.0.1:9000"))
}

func TestS3URL(t *testing.T) {
	c, err := NewS3(context.Background(), config.S3Config{
		Host: "minio.local", Bucket: "roms", AccessKeyID: "k", SecretAccessKey: "s", ForcePathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://minio.local/roms/a/report.csv", c.URL("a/report.csv"))

	c, err = NewS3(context.Background(), config.S3Config{Bucket: "roms", AccessKeyID: "k", SecretAccessKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "s3://roms/report.csv", c.URL("report.csv"))
}
