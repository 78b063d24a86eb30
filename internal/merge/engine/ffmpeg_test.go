package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"video_merge_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls [][]string
	res   commandResult
	err   error
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (commandResult, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.res, r.err
}

func init() {
	logger.SetNewNop()
}

func TestCommandBuilder_Order(t *testing.T) {
	args := NewCommandBuilder("").
		InputArgs("-f", "concat").
		Input("in.txt").
		Filters("scale=2:2", "setsar=1").
		OutputArgs("-r", "30").
		Output("out.mp4").
		Build()

	assert.Equal(t, []string{
		"-loglevel", "error", "-hide_banner", "-nostdin", "-y",
		"-f", "concat", "-i", "in.txt",
		"-vf", "scale=2:2,setsar=1",
		"-r", "30", "out.mp4",
	}, args)
}

func TestTranscode_Args(t *testing.T) {
	r := &fakeRunner{}
	f := newFFmpeg("/usr/bin/ffmpeg", "", "warning", r)

	err := f.Transcode(context.Background(), "a.mov", "b.mp4", Options{
		Filters: []string{"fps=30"},
		Video:   []string{"-c:v", "libx264"},
		Audio:   []string{"-c:a", "aac"},
		Extra:   []string{"-movflags", "+faststart"},
		Muxer:   "mp4",
	})
	require.NoError(t, err)
	require.Len(t, r.calls, 1)

	cmd := strings.Join(r.calls[0], " ")
	assert.Equal(t, "/usr/bin/ffmpeg -loglevel warning -hide_banner -nostdin -y -i a.mov -vf fps=30 -c:v libx264 -c:a aac -movflags +faststart -f mp4 b.mp4", cmd)
}

func TestTranscode_SecondInput(t *testing.T) {
	r := &fakeRunner{}
	f := newFFmpeg("", "", "", r)

	err := f.Transcode(context.Background(), "a.mov", "b.mp4", Options{
		Inputs:  []Input{{Args: []string{"-f", "lavfi"}, Path: "anullsrc=r=48000:cl=stereo"}},
		Filters: []string{"fps=30"},
		Extra:   []string{"-map", "0:v:0", "-map", "1:a:0", "-shortest"},
	})
	require.NoError(t, err)

	cmd := strings.Join(r.calls[0], " ")
	assert.Contains(t, cmd, "-i a.mov -f lavfi -i anullsrc=r=48000:cl=stereo -vf fps=30 -map 0:v:0 -map 1:a:0 -shortest b.mp4")
}

func TestConcat_SpliceUsesStreamCopy(t *testing.T) {
	r := &fakeRunner{}
	f := newFFmpeg("", "", "", r)

	require.NoError(t, f.Concat(context.Background(), "/w/manifest.txt", "/w/out.mp4", Options{}))

	cmd := strings.Join(r.calls[0], " ")
	assert.Contains(t, cmd, "-f concat -safe 0 -i /w/manifest.txt")
	assert.Contains(t, cmd, "-c copy")
	assert.True(t, strings.HasPrefix(cmd, "ffmpeg "))
}

func TestConcat_ReencodeHasNoStreamCopy(t *testing.T) {
	r := &fakeRunner{}
	f := newFFmpeg("", "", "", r)

	require.NoError(t, f.Concat(context.Background(), "m.txt", "out.webm", Options{
		Video: []string{"-c:v", "libvpx-vp9"},
		Audio: []string{"-c:a", "libopus"},
		Muxer: "webm",
	}))

	cmd := strings.Join(r.calls[0], " ")
	assert.NotContains(t, cmd, "-c copy")
	assert.Contains(t, cmd, "-c:v libvpx-vp9 -c:a libopus -f webm out.webm")
}

func TestRun_ExitErrorKeepsStderrTail(t *testing.T) {
	long := strings.Repeat("x", stderrTailLimit) + "moov atom not found"
	r := &fakeRunner{res: commandResult{Stderr: long, ExitCode: 1}, err: errors.New("exit status 1")}
	f := newFFmpeg("", "", "", r)

	err := f.Transcode(context.Background(), "a", "b", Options{})
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, "transcode", exitErr.Op)
	assert.Equal(t, 1, exitErr.ExitCode)
	assert.Len(t, exitErr.Stderr, stderrTailLimit)
	assert.True(t, strings.HasSuffix(exitErr.Stderr, "moov atom not found"))
}

func TestProbe(t *testing.T) {
	out := `{
		"streams": [
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "codec_name": "h264", "width": 640, "height": 360},
			{"codec_type": "video", "codec_name": "mjpeg", "width": 10, "height": 10}
		],
		"format": {"duration": "12.480000"}
	}`
	r := &fakeRunner{res: commandResult{Stdout: []byte(out)}}
	f := newFFmpeg("", "/opt/ffprobe", "", r)

	info, err := f.Probe(context.Background(), "in.mp4")
	require.NoError(t, err)
	assert.Equal(t, "/opt/ffprobe", r.calls[0][0])
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 360, info.Height)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, "aac", info.AudioCodec)
	assert.InDelta(t, 12.48, info.Duration, 1e-9)
}

func TestParseProbe_Rotation(t *testing.T) {
	tests := []struct {
		name          string
		stream        string
		width, height int
		rotation      int
	}{
		{"display matrix portrait", `"side_data_list":[{"side_data_type":"Display Matrix","rotation":-90}]`, 1080, 1920, -90},
		{"display matrix 270", `"side_data_list":[{"rotation":270}]`, 1080, 1920, 270},
		{"upside down keeps geometry", `"side_data_list":[{"rotation":180}]`, 1920, 1080, 180},
		{"legacy rotate tag", `"tags":{"rotate":"90"}`, 1080, 1920, 90},
		{"side data without rotation", `"side_data_list":[{"side_data_type":"CPB properties"}],"tags":{"rotate":"90"}`, 1080, 1920, 90},
		{"not rotated", `"tags":{"language":"und"}`, 1920, 1080, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := `{"streams":[{"codec_type":"video","codec_name":"h264","width":1920,"height":1080,` + tt.stream + `}],"format":{"duration":"3.0"}}`
			info, err := parseProbe([]byte(out))
			require.NoError(t, err)
			assert.Equal(t, tt.width, info.Width)
			assert.Equal(t, tt.height, info.Height)
			assert.Equal(t, tt.rotation, info.Rotation)
		})
	}
}

func TestParseProbe_Errors(t *testing.T) {
	_, err := parseProbe([]byte("not json"))
	assert.Error(t, err)

	_, err = parseProbe([]byte(`{"streams":[{"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"1.0"}}`))
	assert.EqualError(t, err, "no video stream found")

	_, err = parseProbe([]byte(`{"streams":[{"codec_type":"video","codec_name":"h264"}],"format":{"duration":"abc"}}`))
	assert.Error(t, err)
}
