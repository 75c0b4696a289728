package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelcast/internal/config"
)

func TestSandbox_ResolvePath(t *testing.T) {
	sb, err := NewSandbox(filepath.Join(t.TempDir(), "sandbox"))
	require.NoError(t, err)

	tests := []struct {
		name        string
		path        string
		shouldError bool
	}{
		{"simple file", "out.mp4", false},
		{"nested key", "01HZ/01J0.mp4", false},
		{"current dir", ".", false},
		{"parent escape attempt", "../escape.mp4", true},
		{"nested parent escape", "a/../../escape.mp4", true},
		{"absolute path", "/etc/passwd", true},
		{"dot dot name", "..mp4", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := sb.ResolvePath(tt.path)
			if tt.shouldError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "escapes sandbox")
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(resolved, sb.BaseDir()))
		})
	}
}

func TestSandbox_RemoveAllRefusesRoot(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	dir, err := sb.MkdirAll("job")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "merged.mp4"), []byte("x"), 0o600))

	require.NoError(t, sb.RemoveAll("job"))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, sb.RemoveAll("."))
}

func TestLocalPublisher_Publish(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "output")
	pub, err := NewLocalPublisher(outDir)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "encoded.mp4")
	require.NoError(t, os.WriteFile(src, []byte("mp4 bytes"), 0o600))

	ref, err := pub.Publish(context.Background(), src, ObjectKey("asset", "job", "mp4"))
	require.NoError(t, err)

	abs, _ := filepath.Abs(filepath.Join(outDir, "asset", "job.mp4"))
	assert.Equal(t, abs, ref)
	data, err := os.ReadFile(ref)
	require.NoError(t, err)
	assert.Equal(t, "mp4 bytes", string(data))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalPublisher_Remove(t *testing.T) {
	ctx := context.Background()
	outDir := t.TempDir()
	pub, err := NewLocalPublisher(outDir)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "encoded.mp4")
	require.NoError(t, os.WriteFile(src, []byte("mp4 bytes"), 0o600))
	ref, err := pub.Publish(ctx, src, ObjectKey("asset", "job", "mp4"))
	require.NoError(t, err)

	require.NoError(t, pub.Remove(ctx, ref))
	_, err = os.Stat(ref)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, pub.Remove(ctx, ref), "removing twice is not an error")

	outside := filepath.Join(t.TempDir(), "keep.mp4")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))
	assert.Error(t, pub.Remove(ctx, outside))
	_, err = os.Stat(outside)
	assert.NoError(t, err)
}

func TestMinioPublisher_RemoveRejectsForeignReference(t *testing.T) {
	p := &MinioPublisher{bucket: "reelcast"}
	assert.Error(t, p.Remove(context.Background(), "s3://other/a/j.mp4"))
	assert.Error(t, p.Remove(context.Background(), "/srv/output/a/j.mp4"))
}

func TestLocalPublisher_RejectsEscapingKey(t *testing.T) {
	pub, err := NewLocalPublisher(t.TempDir())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "encoded.mp4")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o600))

	_, err = pub.Publish(context.Background(), src, "../../etc/cron.d/evil")
	assert.Error(t, err)
}

func TestLocalPublisher_MissingSource(t *testing.T) {
	pub, err := NewLocalPublisher(t.TempDir())
	require.NoError(t, err)

	_, err = pub.Publish(context.Background(), "/nonexistent/encoded.mp4", "a/b.mp4")
	assert.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "a/j.mp4", ObjectKey("a", "j", "mp4"))
	assert.Equal(t, "a/j.jpg", ObjectKey("a", "j", ".jpg"))
	assert.Equal(t, "a/j", ObjectKey("a", "j", ""))
}

func TestMinioPublisher_ObjectName(t *testing.T) {
	p := &MinioPublisher{bucket: "reelcast", prefix: "outputs"}
	assert.Equal(t, "outputs/a/j.mp4", p.ObjectName("a/j.mp4"))

	p.prefix = ""
	assert.Equal(t, "a/j.mp4", p.ObjectName("a/j.mp4"))
}

func TestNewPublisher(t *testing.T) {
	cfg := config.StorageConfig{BaseDir: t.TempDir(), OutputDir: "output", Publisher: config.PublisherLocal}
	pub, err := NewPublisher(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "local", pub.Name())

	cfg.Publisher = "ftp"
	_, err = NewPublisher(context.Background(), cfg, nil)
	assert.Error(t, err)
}
