package ffmpeg

import (
	"bufio"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimeMarker(t *testing.T) {
	tests := []struct {
		name string
		line string
		want time.Duration
		ok   bool
	}{
		{"stats line", "frame=  240 fps= 60 q=28.0 size=512kB time=00:00:08.00 bitrate=524.3kbits/s speed=2.0x", 8 * time.Second, true},
		{"hours and centiseconds", "time=01:02:03.45", time.Hour + 2*time.Minute + 3*time.Second + 450*time.Millisecond, true},
		{"no fraction", "time=00:00:05", 5 * time.Second, true},
		{"padded", "time= 00:00:01.50", 1500 * time.Millisecond, true},
		{"not available", "time=N/A bitrate=N/A", 0, false},
		{"negative start", "time=-00:00:00.02", 0, false},
		{"no marker", "Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'a.mp4':", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimeMarker(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeMarkerParser_KnownTotal(t *testing.T) {
	p := TimeMarkerParser{Total: 20 * time.Second}

	f, ok := p.Parse("time=00:00:05.00")
	assert.True(t, ok)
	assert.InDelta(t, 0.25, f, 1e-9)

	f, ok = p.Parse("time=00:00:30.00")
	assert.True(t, ok)
	assert.InDelta(t, 1.0, f, 1e-9, "clamped at completion")

	_, ok = p.Parse("Press [q] to stop")
	assert.False(t, ok)
}

func TestTimeMarkerParser_UnknownTotalIsCapped(t *testing.T) {
	p := TimeMarkerParser{}

	f, ok := p.Parse("time=00:00:30.00")
	assert.True(t, ok)
	assert.InDelta(t, 0.5, f, 1e-9)

	f, _ = p.Parse("time=00:10:00.00")
	assert.InDelta(t, maxEstimateFraction, f, 1e-9)
}

func TestScanProgressLines(t *testing.T) {
	input := "a\rb\nc\r\nd"
	s := bufio.NewScanner(strings.NewReader(input))
	s.Split(ScanProgressLines)

	var got []string
	for s.Scan() {
		got = append(got, s.Text())
	}
	assert.Equal(t, []string{"a", "b", "c", "", "d"}, got)
}
