package evidence

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLocal(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{AppEnv: "development", DataDir: dir})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	ref, err := s.Save(context.Background(), []byte("png-bytes"), "confirmation", "https://dir.example/add?x=1")
	require.NoError(t, err)
	assert.Equal(t, "/files/evidence/20260301_120000.000_confirmation_dir.example-add-x-1.png", ref)

	data, err := os.ReadFile(filepath.Join(dir, "evidence", strings.TrimPrefix(ref, "/files/evidence/")))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestSaveHonoursCancellation(t *testing.T) {
	s, err := New(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Save(ctx, []byte("x"), "initial", "https://dir.example")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProductionRequiresBucket(t *testing.T) {
	_, err := New(Config{AppEnv: "production", DataDir: t.TempDir()})
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a.example-b-c", sanitize("https://a.example/b?c"))
	assert.Len(t, sanitize("https://"+strings.Repeat("x", 100)), 64)
}
