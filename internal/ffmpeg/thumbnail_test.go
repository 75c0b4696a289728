package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThumbnailOffsets(t *testing.T) {
	got := ThumbnailOffsets(37)
	want := []float64{3.7, 0.5, 7.4, 18.5, 2.0}

	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9, "rung %d", i)
	}

	short := ThumbnailOffsets(3)
	assert.InDelta(t, 0.5, short[0], 1e-9, "optimal offset never earlier than 0.5s")
}

// snapshotRunner writes a one-byte image for offsets accepted by ok.
func snapshotRunner(ok func(offset float64) bool) *fakeRunner {
	r := &fakeRunner{}
	r.fn = func(args []string) ([]byte, error) {
		offset := 0.0
		if v := argAfter(args, "-ss"); v != "" {
			var err error
			if offset, err = parseOffset(v); err != nil {
				return nil, err
			}
		}
		if !ok(offset) {
			return nil, errors.New("Invalid data found when processing input")
		}
		dst := args[len(args)-1]
		return nil, os.WriteFile(dst, []byte{0xff}, 0o644)
	}
	return r
}

func parseOffset(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func offsetsTried(t *testing.T, r *fakeRunner) []float64 {
	t.Helper()
	var out []float64
	for _, c := range r.Calls() {
		out = append(out, mustFloat(t, argAfter(c, "-ss")))
	}
	return out
}

func TestThumbnailer_FirstRungWins(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "thumb.jpg")
	runner := snapshotRunner(func(float64) bool { return true })

	res := NewThumbnailer("ffmpeg").WithRunner(runner).Extract(context.Background(), "a.mp4", dst, 37)

	assert.True(t, res.Verified)
	assert.InDelta(t, 3.7, res.Offset, 1e-9)
	assert.Equal(t, dst, res.Path)
	assert.Len(t, runner.Calls(), 1)
}

func TestThumbnailer_LadderOrder(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "thumb.jpg")
	// only the 50% rung works
	runner := snapshotRunner(func(o float64) bool { return o > 18 && o < 19 })

	res := NewThumbnailer("ffmpeg").WithRunner(runner).Extract(context.Background(), "a.mp4", dst, 37)

	require.True(t, res.Verified)
	assert.InDelta(t, 18.5, res.Offset, 1e-9)

	tried := offsetsTried(t, runner)
	require.Len(t, tried, 4)
	assert.InDelta(t, 3.7, tried[0], 1e-3)
	assert.InDelta(t, 0.5, tried[1], 1e-3)
	assert.InDelta(t, 7.4, tried[2], 1e-3)
	assert.InDelta(t, 18.5, tried[3], 1e-3)
}

func TestThumbnailer_AllRungsFail(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "thumb.jpg")
	runner := snapshotRunner(func(float64) bool { return false })

	res := NewThumbnailer("ffmpeg").WithRunner(runner).Extract(context.Background(), "a.mp4", dst, 37)

	assert.False(t, res.Verified)
	assert.InDelta(t, 0.5, res.Offset, 1e-9)
	assert.Equal(t, dst, res.Path)
	assert.Error(t, res.Err)

	tried := offsetsTried(t, runner)
	require.Len(t, tried, 6)
	assert.InDelta(t, 2.0, tried[4], 1e-3)
	assert.InDelta(t, 0.5, tried[5], 1e-3, "the file left at dst comes from the 0.5s rung")
}

func TestThumbnailer_FallbackFileMatchesOffset(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "thumb.jpg")
	// Every rung exits 0 without an image and records its offset beside dst.
	runner := &fakeRunner{fn: func(args []string) ([]byte, error) {
		out := args[len(args)-1]
		return nil, os.WriteFile(out+".offset", []byte(argAfter(args, "-ss")), 0o644)
	}}

	res := NewThumbnailer("ffmpeg").WithRunner(runner).Extract(context.Background(), "a.mp4", dst, 37)

	assert.False(t, res.Verified)
	assert.InDelta(t, 0.5, res.Offset, 1e-9)
	stamp, err := os.ReadFile(dst + ".offset")
	require.NoError(t, err)
	assert.Equal(t, "0.500", string(stamp))
}

func TestThumbnailer_SuccessWithoutFileIsNotVerified(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "thumb.jpg")
	runner := &fakeRunner{} // exits 0, writes nothing

	res := NewThumbnailer("ffmpeg").WithRunner(runner).Extract(context.Background(), "a.mp4", dst, 37)

	assert.False(t, res.Verified)
	assert.InDelta(t, 0.5, res.Offset, 1e-9)
	assert.Len(t, runner.Calls(), 6)
}

func TestThumbnailer_EmptyFileIsNotVerified(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "thumb.jpg")
	runner := &fakeRunner{fn: func(args []string) ([]byte, error) {
		return nil, os.WriteFile(args[len(args)-1], nil, 0o644)
	}}

	res := NewThumbnailer("ffmpeg").WithRunner(runner).Extract(context.Background(), "a.mp4", dst, 37)
	assert.False(t, res.Verified)
}

func TestThumbnailer_CancelledContextReturns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := snapshotRunner(func(float64) bool { return true })
	res := NewThumbnailer("ffmpeg").WithRunner(runner).Extract(ctx, "a.mp4", filepath.Join(t.TempDir(), "t.jpg"), 37)

	assert.False(t, res.Verified)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, runner.Calls())
}

func TestThumbnailer_Optimal(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "thumb.jpg")
	prober := NewProber("ffprobe").WithRunner(probeReturning(probeJSON, nil))
	runner := snapshotRunner(func(float64) bool { return true })

	res := NewThumbnailer("ffmpeg").WithRunner(runner).Optimal(context.Background(), prober, "a.mp4", dst)
	assert.True(t, res.Verified)
	assert.InDelta(t, 3.7012, res.Offset, 1e-9)
}
