package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segcompact/internal/config"
)

const validYAML = `
storage:
  endpoint: localhost:9000
  access_key: minio
  secret_key: minio123
  bucket: segments
compaction:
  concurrency: 8
  load_interval: 1m
log_level: debug
`

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := map[string]struct {
		file   string
		args   []string
		expErr bool
		check  func(t *testing.T, cfg *config.Config)
	}{
		"file only": {
			file: validYAML,
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "segments", cfg.Storage.Bucket)
				assert.Equal(t, 8, cfg.Compaction.Concurrency)
				assert.Equal(t, time.Minute, cfg.Compaction.LoadInterval)
				assert.Equal(t, int64(67108864), cfg.Compaction.PartSize)
				assert.Equal(t, "debug", cfg.LogLevel)
			},
		},
		"flags override file": {
			file: validYAML,
			args: []string{"--concurrency=2", "--bucket=other", "--status-addr=:9999"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 2, cfg.Compaction.Concurrency)
				assert.Equal(t, "other", cfg.Storage.Bucket)
				assert.Equal(t, ":9999", cfg.Status.Addr)
			},
		},
		"flags only": {
			args: []string{"--endpoint=localhost:9000", "--access-key=a", "--secret-key=b", "--bucket=segments"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "localhost:9000", cfg.Storage.Endpoint)
				assert.Equal(t, 2, cfg.Compaction.MinSegments)
			},
		},
		"missing bucket": {
			args:   []string{"--endpoint=localhost:9000", "--access-key=a", "--secret-key=b"},
			expErr: true,
		},
		"part size too small": {
			file:   validYAML,
			args:   []string{"--part-size=1024"},
			expErr: true,
		},
		"min segments too small": {
			file:   validYAML,
			args:   []string{"--min-segments=1"},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var path string
			if test.file != "" {
				path = writeConfig(t, test.file)
			}

			cfg, err := config.Load(path, newFlags(t, test.args...))
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			test.check(t, cfg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), newFlags(t))
	assert.Error(t, err)
}
