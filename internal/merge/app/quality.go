package app

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"video_merge_service/internal/merge/domain"
	errprocess "video_merge_service/pkg/err"
)

// DefaultPreset used when the selection names none
const DefaultPreset = "720p"

const (
	minWidth, maxWidth   = 16, 7680
	minHeight, maxHeight = 16, 4320
	minFramerate         = 1
	maxFramerate         = 60
)

type preset struct {
	resolution domain.Resolution
	bitrate    string
}

var presets = map[string]preset{
	"480p":  {domain.Resolution{Width: 854, Height: 480}, "1000k"},
	"720p":  {domain.Resolution{Width: 1280, Height: 720}, "2500k"},
	"1080p": {domain.Resolution{Width: 1920, Height: 1080}, "5000k"},
	"2160p": {domain.Resolution{Width: 3840, Height: 2160}, "15000k"},
	"4k":    {domain.Resolution{Width: 3840, Height: 2160}, "15000k"},
}

var profiles = map[domain.Format]domain.OutputProfile{
	domain.FormatMP4: {
		Format: domain.FormatMP4, Extension: "mp4", Muxer: "mp4",
		VideoCodec: "libx264", AudioCodec: "aac", AudioBitrate: "192k",
	},
	domain.FormatWebM: {
		Format: domain.FormatWebM, Extension: "webm", Muxer: "webm",
		VideoCodec: "libvpx-vp9", AudioCodec: "libopus", AudioBitrate: "128k",
	},
	domain.FormatMOV: {
		Format: domain.FormatMOV, Extension: "mov", Muxer: "mov",
		VideoCodec: "prores_ks", AudioCodec: "pcm_s16le",
	},
}

var (
	resolutionPattern = regexp.MustCompile(`^(\d+)[xX](\d+)$`)
	bitratePattern    = regexp.MustCompile(`^\d+(\.\d+)?[kKmM]?$`)
)

// Resolve maps a quality selection to concrete parameters. It is pure: the
// same selection always yields the same value. Out of range compression and
// unknown formats fall back to tier 0 and mp4; every other bad field is a
// validation error.
func Resolve(sel domain.QualitySelection) (domain.QualityParameters, error) {
	name := strings.ToLower(strings.TrimSpace(sel.Preset))
	if name == "" {
		name = DefaultPreset
	}
	p, ok := presets[name]
	if !ok {
		return domain.QualityParameters{}, errprocess.Validation("unknown preset %q", sel.Preset)
	}

	params := domain.QualityParameters{
		Resolution: p.resolution,
		Bitrate:    p.bitrate,
		Framerate:  30,
		Tier:       domain.TierFastest,
		Output:     profiles[domain.FormatMP4],
	}

	if r := strings.TrimSpace(sel.Resolution); r != "" {
		res, err := parseResolution(r)
		if err != nil {
			return domain.QualityParameters{}, err
		}
		params.Resolution = res
	}

	if b := strings.TrimSpace(sel.Bitrate); b != "" {
		if !bitratePattern.MatchString(b) {
			return domain.QualityParameters{}, errprocess.Validation("invalid bitrate %q", sel.Bitrate)
		}
		params.Bitrate = strings.ToLower(b)
	}

	if sel.Framerate != nil {
		fr := *sel.Framerate
		if fr < minFramerate || fr > maxFramerate {
			return domain.QualityParameters{}, errprocess.Validation("framerate must be between %d and %d, got %d", minFramerate, maxFramerate, fr)
		}
		params.Framerate = fr
	}

	if sel.Compression != nil {
		tier := domain.CompressionTier(*sel.Compression)
		if tier >= domain.TierFastest && tier <= domain.TierBest {
			params.Tier = tier
		}
	}

	if f := strings.ToLower(strings.TrimSpace(sel.Format)); f != "" {
		if prof, ok := profiles[domain.Format(f)]; ok {
			params.Output = prof
		}
	}

	return params, nil
}

func parseResolution(s string) (domain.Resolution, error) {
	m := resolutionPattern.FindStringSubmatch(s)
	if m == nil {
		return domain.Resolution{}, errprocess.Validation("invalid resolution %q, want WIDTHxHEIGHT", s)
	}
	w, errW := strconv.Atoi(m[1])
	h, errH := strconv.Atoi(m[2])
	if errW != nil || errH != nil {
		return domain.Resolution{}, errprocess.Validation("invalid resolution %q", s)
	}
	if w < minWidth || w > maxWidth || h < minHeight || h > maxHeight {
		return domain.Resolution{}, errprocess.Validation("resolution %s out of bounds %dx%d..%dx%d", s, minWidth, minHeight, maxWidth, maxHeight)
	}
	if w%2 != 0 || h%2 != 0 {
		return domain.Resolution{}, errprocess.Validation("resolution %s must have even dimensions", s)
	}
	return domain.Resolution{Width: w, Height: h}, nil
}

// x264Tier preset / CRF per compression tier
var x264Tier = [...]struct {
	preset string
	crf    int
}{
	{"ultrafast", 23},
	{"veryfast", 21},
	{"medium", 20},
	{"slow", 18},
}

// vp9Tier deadline / cpu-used / CRF per compression tier
var vp9Tier = [...]struct {
	deadline string
	cpuUsed  int
	crf      int
}{
	{"realtime", 8, 33},
	{"good", 4, 31},
	{"good", 2, 28},
	{"best", 0, 24},
}

// videoArgs encoder args for the profile's video codec at the job's tier and bitrate
func videoArgs(codec string, tier domain.CompressionTier, bitrate string) []string {
	switch codec {
	case "libvpx-vp9":
		t := vp9Tier[tier]
		return []string{
			"-c:v", codec,
			"-deadline", t.deadline,
			"-cpu-used", strconv.Itoa(t.cpuUsed),
			"-crf", strconv.Itoa(t.crf),
			"-b:v", bitrate,
			"-row-mt", "1",
		}
	case "prores_ks":
		return []string{
			"-c:v", codec,
			"-profile:v", strconv.Itoa(int(tier)),
			"-pix_fmt", "yuv422p10le",
		}
	default:
		t := x264Tier[tier]
		return []string{
			"-c:v", codec,
			"-preset", t.preset,
			"-crf", strconv.Itoa(t.crf),
			"-b:v", bitrate,
			"-maxrate", scaleBitrate(bitrate, 2),
			"-bufsize", scaleBitrate(bitrate, 2),
			"-pix_fmt", "yuv420p",
		}
	}
}

// audioArgs encoder args for the profile's audio codec
func audioArgs(p domain.OutputProfile) []string {
	args := []string{"-c:a", p.AudioCodec}
	if p.AudioBitrate != "" {
		args = append(args, "-b:a", p.AudioBitrate)
	}
	return append(args, "-ar", "48000", "-ac", "2")
}

// scaleBitrate multiplies a validated bitrate string, keeping its unit suffix
func scaleBitrate(b string, factor float64) string {
	num, unit := b, ""
	if n := len(b); n > 0 && strings.ContainsAny(b[n-1:], "kKmM") {
		num, unit = b[:n-1], strings.ToLower(b[n-1:])
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return b
	}
	return fmt.Sprintf("%s%s", strconv.FormatFloat(v*factor, 'f', -1, 64), unit)
}
