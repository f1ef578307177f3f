package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Prober reads stream metadata with ffprobe.
type Prober struct {
	ffprobePath string
	runner      CommandRunner
}

// NewProber creates a prober using the given ffprobe binary.
func NewProber(ffprobePath string, runner CommandRunner) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Prober{ffprobePath: ffprobePath, runner: runner}
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

type probeStream struct {
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	RFrameRate   string            `json:"r_frame_rate"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	Duration     string            `json:"duration"`
	NbFrames     string            `json:"nb_frames"`
	Tags         map[string]string `json:"tags"`
	SideDataList []struct {
		Rotation float64 `json:"rotation"`
	} `json:"side_data_list"`
}

func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
}

// Probe loads duration, display size, nominal frame rate and container of path.
func (p *Prober) Probe(ctx context.Context, path string) (*Asset, error) {
	args := probeArgs(path)
	cmdLog, err := run(ctx, p.runner, p.ffprobePath, args)
	if err != nil {
		return nil, &Error{
			Op:         "probe",
			Kind:       ErrCannotLoadMetadata,
			Reason:     tail(cmdLog.Stderr, 512),
			Path:       path,
			CommandLog: cmdLog,
			Err:        err,
		}
	}

	asset, err := parseProbe(path, []byte(cmdLog.Stdout))
	if err != nil {
		kind := ErrCannotLoadMetadata
		if errors.Is(err, ErrNoVideoTrack) {
			kind = ErrNoVideoTrack
		}
		return nil, &Error{
			Op:         "probe",
			Kind:       kind,
			Reason:     err.Error(),
			Path:       path,
			CommandLog: cmdLog,
		}
	}
	return asset, nil
}

func parseProbe(path string, data []byte) (*Asset, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %v", err)
	}

	var video *probeStream
	hasAudio := false
	for i := range out.Streams {
		switch out.Streams[i].CodecType {
		case "video":
			if video == nil {
				video = &out.Streams[i]
			}
		case "audio":
			hasAudio = true
		}
	}
	if video == nil {
		return nil, ErrNoVideoTrack
	}

	duration := parseSeconds(video.Duration)
	if duration <= 0 {
		duration = parseSeconds(out.Format.Duration)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("duration unavailable")
	}

	fps := parseRational(video.RFrameRate)
	if fps <= 0 {
		fps = parseRational(video.AvgFrameRate)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("frame rate unavailable")
	}

	if video.Width <= 0 || video.Height <= 0 {
		return nil, fmt.Errorf("video size unavailable")
	}

	rotation := streamRotation(video)
	width, height := video.Width, video.Height
	if rotation == 90 || rotation == 270 {
		width, height = height, width
	}

	container, err := ContainerFor(path)
	if err != nil {
		// Extension-less or foreign paths still probe; fall back to the demuxer name.
		container = Container(strings.Split(out.Format.FormatName, ",")[0])
	}

	return &Asset{
		Path:      path,
		Container: container,
		Duration:  duration,
		Width:     width,
		Height:    height,
		FrameRate: fps,
		Rotation:  rotation,
		Codec:     video.CodecName,
		HasAudio:  hasAudio,
	}, nil
}

// streamRotation normalizes rotate tags and display matrix side data to 0/90/180/270.
func streamRotation(s *probeStream) int {
	deg := 0.0
	if v, ok := s.Tags["rotate"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			deg = f
		}
	}
	for _, sd := range s.SideDataList {
		if sd.Rotation != 0 {
			deg = sd.Rotation
		}
	}
	r := int(deg) % 360
	if r < 0 {
		r += 360
	}
	return r
}

func parseSeconds(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return time.Duration(math.Round(f * float64(time.Second)))
}

func parseRational(s string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
