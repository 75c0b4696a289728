package ffmpeg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const probeJSON = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080, "duration": "36.950000"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "sample_rate": "48000", "channels": 2, "duration": "37.012000"}
  ],
  "format": {"filename": "a.mp4", "nb_streams": 2, "format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "37.012000", "size": "1048576", "bit_rate": "226000"}
}`

func probeReturning(out string, err error) *fakeRunner {
	return &fakeRunner{fn: func([]string) ([]byte, error) { return []byte(out), err }}
}

func TestProber_Probe(t *testing.T) {
	runner := probeReturning(probeJSON, nil)
	p := NewProber("ffprobe").WithRunner(runner)

	r, err := p.Probe(context.Background(), "a.mp4")
	require.NoError(t, err)

	assert.Equal(t, 1, r.CountStreams("video"))
	assert.Equal(t, 1, r.CountStreams("audio"))
	assert.True(t, r.HasAudio())
	require.NotNil(t, r.GetVideoStream())
	assert.Equal(t, 1920, r.GetVideoStream().Width)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "a.mp4", calls[0][len(calls[0])-1])
	assert.Contains(t, calls[0], "-show_streams")
}

func TestProber_ProbeErrors(t *testing.T) {
	_, err := NewProber("ffprobe").WithRunner(probeReturning("", errors.New("exit status 1"))).
		Probe(context.Background(), "a.mp4")
	assert.ErrorContains(t, err, "ffprobe failed")

	_, err = NewProber("ffprobe").WithRunner(probeReturning("not json", nil)).
		Probe(context.Background(), "a.mp4")
	assert.ErrorContains(t, err, "parsing ffprobe output")
}

func TestProber_Duration(t *testing.T) {
	tests := []struct {
		name string
		out  string
		err  error
		want float64
	}{
		{"format duration", probeJSON, nil, 37.012},
		{"stream duration when format lacks it", `{"format":{"duration":"N/A"},"streams":[{"codec_type":"video","duration":"12.5"}]}`, nil, 12.5},
		{"default when nothing is known", `{"format":{},"streams":[]}`, nil, DefaultDuration},
		{"default when ffprobe fails", "", errors.New("exec: not found"), DefaultDuration},
		{"default on garbage", "garbage", nil, DefaultDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := probeReturning(tt.out, tt.err)
			p := NewProber("ffprobe").WithRunner(runner)
			assert.InDelta(t, tt.want, p.Duration(context.Background(), "a.mp4"), 1e-9)
			assert.Len(t, runner.Calls(), 1, "ffprobe runs once per Duration call")
		})
	}
}

func TestProber_InspectRunsFFprobeOnce(t *testing.T) {
	runner := probeReturning(probeJSON, nil)
	info := NewProber("ffprobe").WithRunner(runner).Inspect(context.Background(), "a.mp4")

	require.NoError(t, info.ProbeErr)
	assert.True(t, info.DurationKnown)
	assert.InDelta(t, 37.012, info.Duration, 1e-9)
	assert.True(t, info.HasAudio())
	assert.Len(t, runner.Calls(), 1)
}

func TestProber_InspectFailure(t *testing.T) {
	runner := probeReturning("", errors.New("exit status 1"))
	info := NewProber("ffprobe").WithRunner(runner).Inspect(context.Background(), "a.mp4")

	assert.Error(t, info.ProbeErr)
	assert.Nil(t, info.Result)
	assert.False(t, info.DurationKnown)
	assert.InDelta(t, DefaultDuration, info.Duration, 1e-9)
	assert.True(t, info.HasAudio(), "unknown layout keeps audio")
	assert.Len(t, runner.Calls(), 1)
}

func TestFirstDuration_StopsAtFirstSuccess(t *testing.T) {
	var tried []string
	strategy := func(name string, d float64, err error) DurationStrategy {
		return DurationStrategy{Name: name, Fn: func(context.Context, string) (float64, error) {
			tried = append(tried, name)
			return d, err
		}}
	}

	d, ok := FirstDuration(context.Background(), "x", []DurationStrategy{
		strategy("a", 0, errors.New("nope")),
		strategy("b", 0, nil),
		strategy("c", 4.2, nil),
		strategy("d", 9, nil),
	}, nil)

	assert.True(t, ok)
	assert.InDelta(t, 4.2, d, 1e-9)
	assert.Equal(t, []string{"a", "b", "c"}, tried)

	d, ok = FirstDuration(context.Background(), "x", nil, nil)
	assert.False(t, ok)
	assert.InDelta(t, DefaultDuration, d, 1e-9)
}
