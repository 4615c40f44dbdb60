package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/echoes/internal/config"
	"github.com/raphaelgruber/echoes/internal/parser"
)

func sqliteConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		Store:            config.StoreSQLite,
		SQLitePath:       filepath.Join(dir, "echoes.db"),
		EmbedProvider:    config.ProviderOllama,
		OllamaHost:       "http://127.0.0.1:1",
		EmbedTimeout:     time.Second,
		RateLimit:        100,
		RateWindow:       time.Minute,
		EmbedConcurrency: 1,
		PauseBackoff:     time.Second,
		MaxBatchSize:     96,
		MaxBatchTokens:   32000,
		Tokenizer:        parser.WordsTokenizerName,
		Blob:             config.BlobLocal,
		BlobDir:          filepath.Join(dir, "blobs"),
		Queue:            config.QueueLocal,
	}
}

func TestNewSQLiteApp(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, sqliteConfig(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(ctx)) }()

	a.StartWorker(ctx)

	text, err := a.Texts.Upload(ctx, "Ada", "Notes", strings.NewReader("One sentence here. Another one."))
	require.NoError(t, err)

	texts, err := a.Texts.Texts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, texts, 1)
	assert.Equal(t, text.ID, texts[0].ID)

	require.NoError(t, a.WipeData(ctx))
	texts, err = a.Texts.Texts(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, texts)
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
		want   string
	}{
		{"store", func(c *config.Config) { c.Store = "mongo" }, "unsupported store"},
		{"provider", func(c *config.Config) { c.EmbedProvider = "cohere" }, "unsupported embedding provider"},
		{"blob", func(c *config.Config) { c.Blob = "s3" }, "unsupported blob store"},
		{"queue", func(c *config.Config) { c.Queue = "kafka" }, "unsupported queue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sqliteConfig(t)
			tt.modify(&cfg)
			_, err := New(context.Background(), cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
