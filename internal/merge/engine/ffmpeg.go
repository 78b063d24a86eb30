package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"video_merge_service/pkg/logger"
	"video_merge_service/pkg/metrics"

	"go.uber.org/zap"
)

// stderrTailLimit bytes of engine diagnostics kept on ExitError
const stderrTailLimit = 2048

// Input a further engine input, Args go before its -i
type Input struct {
	Args []string
	Path string
}

// Options describes one output: filters go into -vf, the rest follow in order.
// Concat with no Video and no Audio args splices with -c copy.
type Options struct {
	Inputs  []Input
	Filters []string
	Video   []string
	Audio   []string
	Extra   []string
	Muxer   string
}

// ExitError the engine exited non-zero. Stderr keeps the tail of the
// diagnostics for server side logs.
type ExitError struct {
	Op       string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %v", e.Op, e.ExitCode, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

type commandResult struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution so tests never spawn ffmpeg.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

// Run executes one command; the process is killed when ctx is cancelled.
func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.Bytes(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
	}
	return res, err
}

// FFmpeg the transcoding engine behind two capabilities, Transcode and Concat,
// plus Probe for reading stream geometry and duration.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	logLevel    string
	runner      commandRunner
}

// NewFFmpeg create an engine using the given binaries
func NewFFmpeg(ffmpegPath, ffprobePath, logLevel string) *FFmpeg {
	return newFFmpeg(ffmpegPath, ffprobePath, logLevel, execRunner{})
}

func newFFmpeg(ffmpegPath, ffprobePath, logLevel string, runner commandRunner) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logLevel: logLevel, runner: runner}
}

// Transcode re-encodes input into output
func (f *FFmpeg) Transcode(ctx context.Context, input, output string, opts Options) error {
	b := NewCommandBuilder(f.logLevel).Input(input)
	applyOptions(b, opts)
	_, err := f.run(ctx, "transcode", f.ffmpegPath, b.Output(output).Build())
	return err
}

// Concat joins the files listed in a concat demuxer manifest
func (f *FFmpeg) Concat(ctx context.Context, manifest, output string, opts Options) error {
	b := NewCommandBuilder(f.logLevel).
		InputArgs("-f", "concat", "-safe", "0").
		Input(manifest)
	if len(opts.Video) == 0 && len(opts.Audio) == 0 {
		b.OutputArgs("-c", "copy")
	}
	applyOptions(b, opts)
	_, err := f.run(ctx, "concat", f.ffmpegPath, b.Output(output).Build())
	return err
}

func applyOptions(b *CommandBuilder, opts Options) {
	for _, in := range opts.Inputs {
		b.AddInput(in)
	}
	b.Filters(opts.Filters...)
	b.OutputArgs(opts.Video...)
	b.OutputArgs(opts.Audio...)
	b.OutputArgs(opts.Extra...)
	if opts.Muxer != "" {
		b.OutputArgs("-f", opts.Muxer)
	}
}

func (f *FFmpeg) run(ctx context.Context, op, binary string, args []string) (commandResult, error) {
	logger.Log.Debug("engine call", zap.String("op", op), zap.String("cmd", binary+" "+strings.Join(args, " ")))

	start := time.Now()
	res, err := f.runner.Run(ctx, binary, args...)
	metrics.EngineCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EngineCallsTotal.WithLabelValues(op, metrics.StatusError).Inc()
		return res, &ExitError{Op: op, ExitCode: res.ExitCode, Stderr: tail(res.Stderr, stderrTailLimit), Err: err}
	}
	metrics.EngineCallsTotal.WithLabelValues(op, metrics.StatusSuccess).Inc()
	return res, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
