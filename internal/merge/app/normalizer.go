package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"video_merge_service/internal/merge/domain"
	"video_merge_service/internal/merge/engine"
	errprocess "video_merge_service/pkg/err"
	"video_merge_service/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxDefaultConcurrency caps the NumCPU based default
const maxDefaultConcurrency = 4

// intermediate every input is normalized to this profile so the concat step
// can splice without re-encoding
var intermediate = domain.OutputProfile{
	Format: domain.FormatMP4, Extension: "mp4", Muxer: "mp4",
	VideoCodec: "libx264", AudioCodec: "aac", AudioBitrate: "192k",
}

// silentAudio stands in for a missing audio track so every intermediate
// carries one and the splice stays aligned
var silentAudio = engine.Input{
	Args: []string{"-f", "lavfi"},
	Path: "anullsrc=r=48000:cl=stereo",
}

var errNoOutput = errors.New("engine produced no output")

// Transcoder the black box engine capabilities the pipeline needs
type Transcoder interface {
	Transcode(ctx context.Context, input, output string, opts engine.Options) error
	Concat(ctx context.Context, manifest, output string, opts engine.Options) error
}

// Prober reads stream geometry and duration. Optional.
type Prober interface {
	Probe(ctx context.Context, path string) (domain.MediaInfo, error)
}

// Geometry scaled size and centered padding inside the target frame
type Geometry struct {
	Width  int
	Height int
	PadX   int
	PadY   int
}

// Fit scales src to fit inside dst keeping its aspect ratio, then centers it.
// Scaled dimensions are rounded down to even for yuv420p.
func Fit(src, dst domain.Resolution) Geometry {
	if src.Width <= 0 || src.Height <= 0 {
		return Geometry{Width: dst.Width, Height: dst.Height}
	}

	var w, h int
	if dst.Width*src.Height <= dst.Height*src.Width {
		w = dst.Width
		h = src.Height * dst.Width / src.Width
	} else {
		h = dst.Height
		w = src.Width * dst.Height / src.Height
	}
	w, h = max(w&^1, 2), max(h&^1, 2)

	return Geometry{
		Width:  w,
		Height: h,
		PadX:   (dst.Width - w) / 2,
		PadY:   (dst.Height - h) / 2,
	}
}

// fitFilter the -vf chain placing the source in the target frame
func fitFilter(src, dst domain.Resolution) []string {
	if src.Width <= 0 || src.Height <= 0 {
		return []string{
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", dst.Width, dst.Height),
			fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", dst.Width, dst.Height),
			"setsar=1",
		}
	}
	g := Fit(src, dst)
	return []string{
		fmt.Sprintf("scale=%d:%d", g.Width, g.Height),
		fmt.Sprintf("pad=%d:%d:%d:%d", dst.Width, dst.Height, g.PadX, g.PadY),
		"setsar=1",
	}
}

// DefaultConcurrency NumCPU capped at maxDefaultConcurrency
func DefaultConcurrency() int {
	return min(runtime.NumCPU(), maxDefaultConcurrency)
}

// Normalizer transcodes inputs to the job's uniform intermediate profile.
type Normalizer struct {
	engine      Transcoder
	prober      Prober
	concurrency int
}

// NewNormalizer create a normalizer. prober may be nil; concurrency <= 0
// selects DefaultConcurrency.
func NewNormalizer(e Transcoder, p Prober, concurrency int) *Normalizer {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency()
	}
	return &Normalizer{engine: e, prober: p, concurrency: concurrency}
}

// Normalize runs one transcode for in. A failure names the 1-based input.
func (n *Normalizer) Normalize(ctx context.Context, ws *Workspace, in domain.InputAsset, params domain.QualityParameters) (domain.NormalizedAsset, error) {
	log := ws.log.With(zap.Int("input", in.Index), zap.String("stage", "normalize"))
	failMsg := fmt.Sprintf("normalization failed for input %d", in.Index)

	out, err := ws.File(fmt.Sprintf("normalized_%d.%s", in.Index, intermediate.Extension))
	if err != nil {
		return domain.NormalizedAsset{}, err
	}

	var src domain.MediaInfo
	probed := false
	if n.prober != nil {
		if src, err = n.prober.Probe(ctx, in.Path); err != nil {
			log.Debug("probe failed, using expression filter", zap.Error(err))
			src = domain.MediaInfo{}
		} else {
			probed = true
		}
	}

	opts := engine.Options{
		Filters: append(fitFilter(domain.Resolution{Width: src.Width, Height: src.Height}, params.Resolution), "fps="+strconv.Itoa(params.Framerate)),
		Video:   append(videoArgs(intermediate.VideoCodec, params.Tier, params.Bitrate), "-r", strconv.Itoa(params.Framerate)),
		Audio:   audioArgs(intermediate),
		Extra:   []string{"-movflags", "+faststart"},
		Muxer:   intermediate.Muxer,
	}
	if probed && src.AudioCodec == "" {
		log.Info("input has no audio, adding a silent track")
		opts.Inputs = []engine.Input{silentAudio}
		opts.Extra = append([]string{"-map", "0:v:0", "-map", "1:a:0", "-shortest"}, opts.Extra...)
	}

	if err := n.engine.Transcode(ctx, in.Path, out, opts); err != nil {
		if ctx.Err() != nil {
			return domain.NormalizedAsset{}, errprocess.Resource("job aborted before completion", ctx.Err())
		}
		logEngineFailure(log, err)
		return domain.NormalizedAsset{}, errprocess.Engine(in.Index, failMsg, err)
	}

	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		log.Error("engine produced no output", zap.String("path", out))
		return domain.NormalizedAsset{}, errprocess.Engine(in.Index, failMsg, errNoOutput)
	}

	log.Debug("input normalized", zap.String("path", out))
	return domain.NormalizedAsset{Index: in.Index, Path: out, Duration: src.Duration}, nil
}

// NormalizeAll normalizes every input concurrently and returns the results
// in input order. The first failure cancels the siblings still running and
// stops scheduling new ones.
func (n *Normalizer) NormalizeAll(ctx context.Context, ws *Workspace, inputs []domain.InputAsset, params domain.QualityParameters) ([]domain.NormalizedAsset, error) {
	results := make([]domain.NormalizedAsset, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)
	for i, in := range inputs {
		i, in := i, in
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			asset, err := n.Normalize(gctx, ws, in, params)
			if err != nil {
				return err
			}
			results[i] = asset
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errprocess.Resource("job aborted before completion", err)
	}
	return results, nil
}

func logEngineFailure(log *logger.LogInfo, err error) {
	var exitErr *engine.ExitError
	if errors.As(err, &exitErr) {
		log.Error("engine call failed",
			zap.String("op", exitErr.Op),
			zap.Int("exit_code", exitErr.ExitCode),
			zap.String("stderr", exitErr.Stderr),
			zap.Error(exitErr.Err),
		)
		return
	}
	log.Error("engine call failed", zap.Error(err))
}
