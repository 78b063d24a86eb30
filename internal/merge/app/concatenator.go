package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"video_merge_service/internal/merge/domain"
	"video_merge_service/internal/merge/engine"
	errprocess "video_merge_service/pkg/err"

	"go.uber.org/zap"
)

const manifestName = "manifest.txt"

// 讓 concatenator test 可替換
var writeFile = func(name string, data []byte) error {
	return os.WriteFile(name, data, 0o644)
}

// Concatenator joins normalized intermediates into the job's output.
type Concatenator struct {
	engine Transcoder
}

// NewConcatenator create a concatenator
func NewConcatenator(e Transcoder) *Concatenator {
	return &Concatenator{engine: e}
}

// WriteManifest writes the concat demuxer manifest in input order. expected
// is the number of inputs of the job; any mismatch fails before the engine runs.
func (c *Concatenator) WriteManifest(ws *Workspace, assets []domain.NormalizedAsset, expected int) (domain.Manifest, error) {
	if err := checkAssets(assets, expected); err != nil {
		return domain.Manifest{}, err
	}

	entries := make([]domain.ManifestEntry, len(assets))
	var sb strings.Builder
	for i, a := range assets {
		abs, err := filepath.Abs(a.Path)
		if err != nil {
			return domain.Manifest{}, errprocess.Resource("malformed manifest", err)
		}
		entries[i] = domain.ManifestEntry{Index: a.Index, Path: abs}
		fmt.Fprintf(&sb, "file '%s'\n", escapeManifestPath(abs))
	}

	path, err := ws.File(manifestName)
	if err != nil {
		return domain.Manifest{}, err
	}
	if err := writeFile(path, []byte(sb.String())); err != nil {
		return domain.Manifest{}, errprocess.Resource("failed to write manifest", err)
	}
	return domain.Manifest{Path: path, Entries: entries}, nil
}

// Concatenate produces merged_<jobID>.<ext> inside the workspace. mp4 is a
// stream splice; other formats take one re-encode pass.
func (c *Concatenator) Concatenate(ctx context.Context, ws *Workspace, jobID string, m domain.Manifest, params domain.QualityParameters) (string, error) {
	log := ws.log.With(zap.String("stage", "concat"))

	if err := checkManifest(m); err != nil {
		return "", err
	}

	out, err := ws.File(fmt.Sprintf("merged_%s.%s", jobID, params.Output.Extension))
	if err != nil {
		return "", err
	}

	opts := engine.Options{Muxer: params.Output.Muxer}
	if params.NeedsReencode() {
		opts.Video = videoArgs(params.Output.VideoCodec, params.Tier, params.Bitrate)
		opts.Audio = audioArgs(params.Output)
	}
	if params.Output.Format == domain.FormatMP4 {
		opts.Extra = []string{"-movflags", "+faststart"}
	}

	if err := c.engine.Concat(ctx, m.Path, out, opts); err != nil {
		if ctx.Err() != nil {
			return "", errprocess.Resource("job aborted before completion", ctx.Err())
		}
		logEngineFailure(log, err)
		return "", errprocess.Engine(0, "concatenation failed", err)
	}

	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		log.Error("engine produced no output", zap.String("path", out))
		return "", errprocess.Engine(0, "concatenation failed", errNoOutput)
	}

	log.Info("inputs concatenated", zap.String("path", out), zap.Bool("reencode", params.NeedsReencode()))
	return out, nil
}

func checkAssets(assets []domain.NormalizedAsset, expected int) error {
	if len(assets) == 0 {
		return errprocess.Resource("malformed manifest", errors.New("no entries"))
	}
	if len(assets) != expected {
		return errprocess.Resource("malformed manifest", fmt.Errorf("%d entries for %d inputs", len(assets), expected))
	}
	for i, a := range assets {
		if a.Index != i+1 {
			return errprocess.Resource("malformed manifest", fmt.Errorf("entry %d holds input %d", i+1, a.Index))
		}
		if err := checkPath(a.Path); err != nil {
			return err
		}
	}
	return nil
}

func checkManifest(m domain.Manifest) error {
	if len(m.Entries) == 0 {
		return errprocess.Resource("malformed manifest", errors.New("no entries"))
	}
	if err := checkPath(m.Path); err != nil {
		return err
	}
	for _, e := range m.Entries {
		if err := checkPath(e.Path); err != nil {
			return err
		}
	}
	return nil
}

func checkPath(path string) error {
	if path == "" {
		return errprocess.Resource("malformed manifest", errors.New("empty path"))
	}
	if _, err := os.Stat(path); err != nil {
		return errprocess.Resource("malformed manifest", err)
	}
	return nil
}

// escapeManifestPath quotes for the concat demuxer, escaping single quotes shell style
func escapeManifestPath(p string) string {
	return strings.ReplaceAll(p, `'`, `'\''`)
}
