package domain

import "fmt"

// Format definition output container family
type Format string

const (
	// FormatMP4 H.264 + AAC, the widely compatible default
	FormatMP4 Format = "mp4"
	// FormatWebM VP9 + Opus, royalty free
	FormatWebM Format = "webm"
	// FormatMOV ProRes + PCM, high fidelity intermediate
	FormatMOV Format = "mov"
)

// CompressionTier ordinal 0..3 selecting an encoder speed/quality pair
type CompressionTier int

const (
	// TierFastest lowest encode time
	TierFastest CompressionTier = 0
	// TierBest highest quality per bit
	TierBest CompressionTier = 3
)

// Resolution width x height in pixels
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// QualitySelection what the caller asked for. Empty fields fall back to the
// preset (or 720p when no preset is named).
type QualitySelection struct {
	Preset      string
	Resolution  string
	Bitrate     string
	Framerate   *int
	Compression *int
	Format      string
}

// OutputProfile container and codec pair of one format family
type OutputProfile struct {
	Format       Format
	Extension    string
	Muxer        string
	VideoCodec   string
	AudioCodec   string
	AudioBitrate string
}

// QualityParameters resolved once per job, never mutated afterwards.
type QualityParameters struct {
	Resolution Resolution
	Bitrate    string
	Framerate  int
	Tier       CompressionTier
	Output     OutputProfile
}

// NeedsReencode reports whether the concat step must re-encode. Intermediates
// are always mp4/H.264/AAC so only the mp4 family can be spliced.
func (p QualityParameters) NeedsReencode() bool {
	return p.Output.Format != FormatMP4
}
