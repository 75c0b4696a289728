package ffmpeg

import (
	"bytes"
	"regexp"
	"strconv"
	"time"
)

// ProgressParser turns one line of engine diagnostic output into a
// completion fraction in [0, 1]. ok is false for lines that carry no
// progress information.
type ProgressParser interface {
	Parse(line string) (fraction float64, ok bool)
}

var timeMarkerRe = regexp.MustCompile(`time=\s*(-?\d+):(\d{2}):(\d{2})(?:\.(\d+))?`)

// ParseTimeMarker extracts the elapsed output time from an ffmpeg stats
// line such as "frame=  240 fps= 60 ... time=00:00:08.00 bitrate=...".
func ParseTimeMarker(line string) (time.Duration, bool) {
	m := timeMarkerRe.FindStringSubmatch(line)
	if m == nil || m[1][0] == '-' {
		return 0, false
	}

	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])

	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second

	if frac := m[4]; frac != "" {
		// ffmpeg prints centiseconds; accept any precision.
		v, _ := strconv.Atoi(frac)
		scale := time.Second
		for range len(frac) {
			scale /= 10
		}
		d += time.Duration(v) * scale
	}
	return d, true
}

// DefaultEstimateHorizon is the assumed output length when the real length
// is unknown.
const DefaultEstimateHorizon = 60 * time.Second

// maxEstimateFraction caps estimates made without a known length so they
// never claim completion.
const maxEstimateFraction = 0.95

// TimeMarkerParser estimates progress from time= markers. With a known
// Total the estimate is elapsed/Total; otherwise it is a linear estimate
// against DefaultEstimateHorizon capped below completion.
type TimeMarkerParser struct {
	Total time.Duration
}

// Parse implements ProgressParser.
func (p TimeMarkerParser) Parse(line string) (float64, bool) {
	elapsed, ok := ParseTimeMarker(line)
	if !ok {
		return 0, false
	}

	if p.Total > 0 {
		return min(float64(elapsed)/float64(p.Total), 1.0), true
	}
	return min(float64(elapsed)/float64(DefaultEstimateHorizon), maxEstimateFraction), true
}

// ScanProgressLines is a bufio.SplitFunc that splits on '\n' and on the bare
// '\r' ffmpeg uses to redraw its stats line.
func ScanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
