package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/reelcast/internal/ffmpeg"
	"github.com/jmylchreest/reelcast/internal/models"
	"github.com/jmylchreest/reelcast/internal/storage"
	"github.com/jmylchreest/reelcast/internal/style"
)

// probeRunner answers ffprobe calls with canned JSON per path.
type probeRunner struct {
	mu     sync.Mutex
	byPath map[string]string
	calls  int
}

func (r *probeRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	path := args[len(args)-1]
	if out, ok := r.byPath[path]; ok {
		return []byte(out), nil
	}
	return []byte(avProbe(10)), nil
}

// snapshotRunner writes a tiny file to the snapshot destination.
type snapshotRunner struct{}

func (snapshotRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	return nil, os.WriteFile(args[len(args)-1], []byte{0xff, 0xd8}, 0o600)
}

func avProbe(seconds float64) string {
	return fmt.Sprintf(`{"format":{"duration":"%.3f"},"streams":[{"codec_type":"video","codec_name":"h264"},{"codec_type":"audio","codec_name":"aac"}]}`, seconds)
}

const audioOnlyProbe = `{"format":{"duration":"4.000"},"streams":[{"codec_type":"audio","codec_name":"aac"},{"codec_type":"audio","codec_name":"aac"}]}`

// fakeFFmpeg writes a shell script that logs its arguments, emits progress
// lines and writes the last argument as the output file.
func fakeFFmpeg(t *testing.T, body string) (bin, log string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes need a POSIX shell")
	}
	dir := t.TempDir()
	bin = filepath.Join(dir, "ffmpeg")
	log = filepath.Join(dir, "invocations.log")
	script := fmt.Sprintf("#!/bin/sh\necho \"$@\" >> %q\nfor last; do :; done\n%s\n", log, body)
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, log
}

const succeed = `printf 'frame=1 time=00:00:02.50 bitrate=1\r' >&2
printf 'frame=2 time=00:00:05.00 bitrate=1\n' >&2
printf 'data' > "$last"`

func invocations(t *testing.T, log string) []string {
	t.Helper()
	data, err := os.ReadFile(log)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func sourceFile(t *testing.T, dir, name string) models.SourceFile {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("source"), 0o600))
	return models.SourceFile{Path: path, OriginalName: name, Size: 6, Format: "mp4"}
}

type harness struct {
	processor *Processor
	probes    *probeRunner
	log       string
	outDir    string
}

func newHarness(t *testing.T, ffmpegBody string, opts ...func(*Dependencies)) *harness {
	t.Helper()
	bin, log := fakeFFmpeg(t, ffmpegBody)
	root := t.TempDir()

	probes := &probeRunner{byPath: map[string]string{}}
	prober := ffmpeg.NewProber("ffprobe").WithRunner(probes)

	outDir := filepath.Join(root, "output")
	pub, err := storage.NewLocalPublisher(outDir)
	require.NoError(t, err)

	deps := Dependencies{
		Merger:       NewMerger(bin, prober),
		Encoder:      NewEncoder(bin),
		Prober:       prober,
		Thumbnailer:  ffmpeg.NewThumbnailer(bin).WithRunner(snapshotRunner{}),
		Publisher:    pub,
		WorkDir:      filepath.Join(root, "work"),
		ThumbnailDir: filepath.Join(root, "thumbs"),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	p, err := NewProcessor(deps)
	require.NoError(t, err)
	return &harness{processor: p, probes: probes, log: log, outDir: outDir}
}

func newJob(files ...models.SourceFile) *models.ProcessingJob {
	return models.NewProcessingJob(models.NewULID(), "user-1", files, models.StylePreferences{}, 0)
}

type progressLog struct {
	mu   sync.Mutex
	seen []int
}

func (l *progressLog) report(pct int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, pct)
}

func (l *progressLog) values() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.seen...)
}

func TestProcess_SingleFile(t *testing.T) {
	h := newHarness(t, succeed)
	job := newJob(sourceFile(t, t.TempDir(), "clip.mp4"))
	var prog progressLog

	res, err := h.processor.Process(context.Background(), job, prog.report)
	require.NoError(t, err)

	data, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	assert.NotEmpty(t, res.ThumbnailPath)
	assert.Equal(t, style.DefaultPlan(), res.Plan)

	calls := invocations(t, h.log)
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0], "concat=")
	assert.Contains(t, calls[0], "-stats")

	values := prog.values()
	require.NotEmpty(t, values)
	assert.Equal(t, 0, values[0])
	for _, v := range values {
		assert.LessOrEqual(t, v, 90)
	}
	assert.Contains(t, values, 22, "2.5s of a 10s output at medium pacing")
}

func TestProcess_InspectsEncodeInputOnce(t *testing.T) {
	h := newHarness(t, succeed)
	job := newJob(sourceFile(t, t.TempDir(), "clip.mp4"))

	_, err := h.processor.Process(context.Background(), job, nil)
	require.NoError(t, err)

	h.probes.mu.Lock()
	defer h.probes.mu.Unlock()
	assert.Equal(t, 1, h.probes.calls)
}

func TestProcess_MixesMusicBed(t *testing.T) {
	musicDir := t.TempDir()
	track := filepath.Join(musicDir, "orchestral.mp3")
	require.NoError(t, os.WriteFile(track, []byte("ID3"), 0o600))

	h := newHarness(t, succeed, func(d *Dependencies) { d.MusicDir = musicDir })
	job := newJob(sourceFile(t, t.TempDir(), "clip.mp4"))
	job.Preferences = models.StylePreferences{EditingStyle: "cinematic"}

	res, err := h.processor.Process(context.Background(), job, nil)
	require.NoError(t, err)
	assert.Equal(t, style.MusicOrchestral, res.Plan.Music)

	calls := invocations(t, h.log)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "-stream_loop -1 -i "+track)
	assert.Contains(t, calls[0], "amix=inputs=2")
	assert.Contains(t, calls[0], "-map [aout]")
	assert.NotContains(t, calls[0], "-vf ")
}

func TestProcess_NoMusicTrackKeepsSimpleChains(t *testing.T) {
	h := newHarness(t, succeed, func(d *Dependencies) { d.MusicDir = t.TempDir() })
	job := newJob(sourceFile(t, t.TempDir(), "clip.mp4"))
	job.Preferences = models.StylePreferences{EditingStyle: "cinematic"}

	_, err := h.processor.Process(context.Background(), job, nil)
	require.NoError(t, err)

	calls := invocations(t, h.log)
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0], "-filter_complex")
	assert.Contains(t, calls[0], "-vf ")
}

func TestMusicLibrary_Track(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "upbeat.m4a"), []byte("m4a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "upbeat.mp3"), []byte("mp3"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ambient.wav"), nil, 0o600))

	lib := NewMusicLibrary(dir)
	assert.Equal(t, filepath.Join(dir, "upbeat.m4a"), lib.Track(style.MusicUpbeat))
	assert.Empty(t, lib.Track(style.MusicAmbient), "empty tracks are skipped")
	assert.Empty(t, lib.Track(style.MusicCorporate))
	assert.Empty(t, lib.Track(style.MusicNone))
	assert.Empty(t, NewMusicLibrary("").Track(style.MusicUpbeat))

	var none *MusicLibrary
	assert.Empty(t, none.Track(style.MusicUpbeat))
}

func TestProcessor_WithdrawRemovesOutputs(t *testing.T) {
	h := newHarness(t, succeed)
	job := newJob(sourceFile(t, t.TempDir(), "clip.mp4"))

	res, err := h.processor.Process(context.Background(), job, nil)
	require.NoError(t, err)
	require.FileExists(t, res.OutputPath)
	require.FileExists(t, res.ThumbnailPath)

	require.NoError(t, h.processor.Withdraw(context.Background(), res))
	assert.NoFileExists(t, res.OutputPath)
	assert.NoFileExists(t, res.ThumbnailPath)

	assert.NoError(t, h.processor.Withdraw(context.Background(), res))
	assert.NoError(t, h.processor.Withdraw(context.Background(), nil))
}

func TestProcess_MergeThenEncode(t *testing.T) {
	h := newHarness(t, succeed)
	dir := t.TempDir()
	job := newJob(sourceFile(t, dir, "a.mp4"), sourceFile(t, dir, "b.mp4"), sourceFile(t, dir, "c.mp4"))
	job.Preferences = models.StylePreferences{
		EditingStyle:   "cinematic",
		TargetAudience: "Adults (30-50)",
		DurationBucket: "1-2 minutes",
	}
	var prog progressLog

	res, err := h.processor.Process(context.Background(), job, prog.report)
	require.NoError(t, err)
	assert.Equal(t, style.QualityUltra, res.Plan.Quality)

	calls := invocations(t, h.log)
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0], "concat=n=3:v=1:a=1")
	assert.Contains(t, calls[1], "vignette")

	values := prog.values()
	idx := indexOf(values, 15)
	require.GreaterOrEqual(t, idx, 0, "merge ceiling must be reported")
	for _, v := range values[:idx] {
		assert.LessOrEqual(t, v, 15)
	}
	for _, v := range values[idx:] {
		assert.GreaterOrEqual(t, v, 15)
	}
	assert.Empty(t, job.MergedPath, "staging is cleared after publish")
}

func TestProcess_ResumesFromMergedFile(t *testing.T) {
	h := newHarness(t, succeed)
	dir := t.TempDir()
	job := newJob(sourceFile(t, dir, "a.mp4"), sourceFile(t, dir, "b.mp4"))
	job.MergedPath = sourceFile(t, dir, "merged.mp4").Path
	var prog progressLog

	_, err := h.processor.Process(context.Background(), job, prog.report)
	require.NoError(t, err)

	calls := invocations(t, h.log)
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0], "concat=")
	assert.Equal(t, 15, prog.values()[0])
}

func TestProcess_MergeLayoutMismatchFailsFast(t *testing.T) {
	h := newHarness(t, succeed)
	dir := t.TempDir()
	a, b := sourceFile(t, dir, "a.mp4"), sourceFile(t, dir, "b.mp4")
	h.probes.byPath[b.Path] = audioOnlyProbe

	_, err := h.processor.Process(context.Background(), newJob(a, b), nil)
	require.Error(t, err)

	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, StageMerge, inputErr.Stage)
	assert.Contains(t, err.Error(), "0 video and 2 audio")
	assert.False(t, IsRetryable(err))
	assert.Empty(t, invocations(t, h.log), "ffmpeg must not run")
}

func TestProcess_MissingSourceFailsFast(t *testing.T) {
	h := newHarness(t, succeed)
	job := newJob(models.SourceFile{Path: filepath.Join(t.TempDir(), "gone.mp4")})

	_, err := h.processor.Process(context.Background(), job, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source file missing")
	assert.False(t, IsRetryable(err))
}

func TestProcess_NoSourceFiles(t *testing.T) {
	h := newHarness(t, succeed)
	_, err := h.processor.Process(context.Background(), newJob(), nil)
	require.ErrorIs(t, err, models.ErrNoSourceFiles)
	assert.False(t, IsRetryable(err))
}

func TestProcess_EncodeFailureIsTransientAndVerbatim(t *testing.T) {
	h := newHarness(t, `printf 'partial' > "$last"
echo "[libx264 @ 0x5581] height not divisible by 2 (1920x1081)" >&2
exit 1`)
	job := newJob(sourceFile(t, t.TempDir(), "clip.mp4"))

	_, err := h.processor.Process(context.Background(), job, nil)
	require.Error(t, err)

	assert.True(t, IsRetryable(err))
	assert.Equal(t, StageEncode, StageOf(err))
	assert.Contains(t, err.Error(), "[libx264 @ 0x5581] height not divisible by 2 (1920x1081)")

	entries, _ := os.ReadDir(filepath.Join(h.processor.work.BaseDir(), job.AssetID.String()))
	for _, e := range entries {
		assert.NotContains(t, e.Name(), partialSuffix)
	}
	outputs, _ := os.ReadDir(h.outDir)
	assert.Empty(t, outputs)
}

func TestProcess_BadInputSignatureIsNotRetried(t *testing.T) {
	h := newHarness(t, `echo "clip.mp4: Invalid data found when processing input" >&2
exit 1`)
	job := newJob(sourceFile(t, t.TempDir(), "clip.mp4"))

	_, err := h.processor.Process(context.Background(), job, nil)
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "Invalid data found when processing input")
}

func TestEncoder_SpawnFailureIsTransient(t *testing.T) {
	enc := NewEncoder(filepath.Join(t.TempDir(), "no-such-ffmpeg"))
	graph, err := ffmpeg.BuildGraph(style.DefaultPlan(), ffmpeg.GraphOptions{HasAudio: true, IncludeAudio: true})
	require.NoError(t, err)

	err = enc.Encode(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "out.mp4"), graph, nil, nil)
	require.Error(t, err)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.True(t, IsRetryable(err))
}

func TestEncoder_CommandWritesPartial(t *testing.T) {
	graph, err := ffmpeg.BuildGraph(style.DefaultPlan(), ffmpeg.GraphOptions{HasAudio: false, IncludeAudio: true})
	require.NoError(t, err)

	cmd := NewEncoder("ffmpeg").Command("in.mp4", "/tmp/out.mp4", graph)
	assert.Equal(t, "/tmp/out.mp4.partial", cmd.Args[len(cmd.Args)-1])
	assert.NotContains(t, cmd.Args, "-af")
	assert.Contains(t, cmd.Args, "-an")
}

func TestFilterGraph(t *testing.T) {
	got := FilterGraph(2, style.Resolution{Width: 1920, Height: 1080})

	assert.Equal(t,
		"[0:v:0]scale=1920:1080:force_original_aspect_ratio=decrease,pad=1920:1080:(ow-iw)/2:(oh-ih)/2,fps=30,setsar=1[v0];"+
			"[0:a:0]aresample=48000,aformat=channel_layouts=stereo[a0];"+
			"[1:v:0]scale=1920:1080:force_original_aspect_ratio=decrease,pad=1920:1080:(ow-iw)/2:(oh-ih)/2,fps=30,setsar=1[v1];"+
			"[1:a:0]aresample=48000,aformat=channel_layouts=stereo[a1];"+
			"[v0][a0][v1][a1]concat=n=2:v=1:a=1[outv][outa]",
		got)
}

func TestMerger_RequiresTwoInputs(t *testing.T) {
	m := NewMerger("ffmpeg", ffmpeg.NewProber("ffprobe").WithRunner(&probeRunner{}))
	_, err := m.Inspect(context.Background(), []models.SourceFile{{Path: "a.mp4"}})

	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"input", NewInputError(StageMerge, "bad layout"), false},
		{"wrapped input", fmt.Errorf("attempt 2: %w", NewInputError(StageValidate, "missing")), false},
		{"invalid plan", fmt.Errorf("%w: unmapped tier", ffmpeg.ErrInvalidPlan), false},
		{"canceled", &ExecError{Stage: StageEncode, Err: context.Canceled}, false},
		{"timeout", &ExecError{Stage: StageEncode, Err: context.DeadlineExceeded}, true},
		{"exec", &ExecError{Stage: StageEncode, Err: errors.New("exit 1")}, true},
		{"unknown", errors.New("disk full"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestClassifyRunError(t *testing.T) {
	spawn := classifyRunError(StageEncode, &ffmpeg.RunError{Err: errors.New("exec: not found")})
	assert.IsType(t, &ExecError{}, spawn)

	moov := classifyRunError(StageEncode, &ffmpeg.RunError{
		Started: true, ExitCode: 1,
		Stderr: []string{"[mov,mp4 @ 0x1] moov atom not found", "in.mp4: Invalid data"},
		Err:    errors.New("exit status 1"),
	})
	assert.IsType(t, &InputError{}, moov)
	assert.Contains(t, moov.Error(), "moov atom not found")

	plain := classifyRunError(StageEncode, &ffmpeg.RunError{Started: true, ExitCode: 137, Err: errors.New("killed")})
	assert.IsType(t, &ExecError{}, plain)
}

func indexOf(values []int, want int) int {
	for i, v := range values {
		if v == want {
			return i
		}
	}
	return -1
}
