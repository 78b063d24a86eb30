package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"video_merge_service/internal/merge/domain"
)

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecName string `json:"codec_name"`
		CodecType string `json:"codec_type"`
		Width     int    `json:"width,omitempty"`
		Height    int    `json:"height,omitempty"`
		Tags      struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation *float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

// rotation display matrix rotation in degrees, falling back to the legacy
// rotate tag. 0 when neither is present.
func (r probeResult) rotation(i int) int {
	s := r.Streams[i]
	for _, sd := range s.SideDataList {
		if sd.Rotation != nil {
			return int(*sd.Rotation)
		}
	}
	if s.Tags.Rotate != "" {
		if deg, err := strconv.Atoi(s.Tags.Rotate); err == nil {
			return deg
		}
	}
	return 0
}

// Probe reads geometry, codecs and duration of the first video and audio streams.
// Width and Height are the displayed frame, after rotation.
func (f *FFmpeg) Probe(ctx context.Context, path string) (domain.MediaInfo, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	res, err := f.run(ctx, "probe", f.ffprobePath, args)
	if err != nil {
		return domain.MediaInfo{}, err
	}
	return parseProbe(res.Stdout)
}

func parseProbe(out []byte) (domain.MediaInfo, error) {
	var pr probeResult
	if err := json.Unmarshal(out, &pr); err != nil {
		return domain.MediaInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var info domain.MediaInfo
	for i, s := range pr.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.Width = s.Width
				info.Height = s.Height
				info.Rotation = pr.rotation(i)
				// ffmpeg autorotates before -vf, so filters see the upright frame
				if quarterTurn(info.Rotation) {
					info.Width, info.Height = s.Height, s.Width
				}
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}
	if pr.Format.Duration != "" {
		d, err := strconv.ParseFloat(pr.Format.Duration, 64)
		if err != nil {
			return domain.MediaInfo{}, fmt.Errorf("parse duration %q: %w", pr.Format.Duration, err)
		}
		info.Duration = d
	}
	if info.VideoCodec == "" {
		return info, fmt.Errorf("no video stream found")
	}
	return info, nil
}

func quarterTurn(deg int) bool {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg == 90 || deg == 270
}
