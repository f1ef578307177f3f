package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

const encoderListing = `Encoders:
 V..... = Video
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D libx265              libx265 H.265 / HEVC (codec hevc)
 V....D mjpeg                MJPEG (Motion JPEG)
 A....D aac                  AAC (Advanced Audio Coding)
`

type fakeCall struct {
	Name string
	Args []string
}

// fakeRunner answers ffprobe from probeFor and "renders" ffmpeg outputs as small files.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []fakeCall
	encoders string
	probeFor func(path string) (string, error)
	onRender func(args []string, output string) error
}

func newFakeRunner(probeFor func(path string) (string, error)) *fakeRunner {
	return &fakeRunner{encoders: encoderListing, probeFor: probeFor}
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Name: name, Args: append([]string(nil), args...)})
	f.mu.Unlock()

	if strings.HasSuffix(name, "ffprobe") {
		out, err := f.probeFor(args[len(args)-1])
		if err != nil {
			return CommandResult{Stderr: err.Error(), ExitCode: 1}, err
		}
		return CommandResult{Stdout: out}, nil
	}

	for _, a := range args {
		if a == "-encoders" {
			return CommandResult{Stdout: f.encoders}, nil
		}
	}

	output := outputArg(args)
	if f.onRender != nil {
		if err := f.onRender(args, output); err != nil {
			return CommandResult{Stderr: err.Error(), ExitCode: 1}, err
		}
		return CommandResult{}, nil
	}
	if output == "" {
		return CommandResult{ExitCode: 1}, errors.New("no output path")
	}
	return CommandResult{}, os.WriteFile(output, []byte("rendered"), 0o644)
}

// renders returns the ffmpeg invocations that produced output files.
func (f *fakeRunner) renders() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		if strings.HasSuffix(c.Name, "ffprobe") {
			continue
		}
		isListing := false
		for _, a := range c.Args {
			if a == "-encoders" {
				isListing = true
			}
		}
		if !isListing {
			out = append(out, c.Args)
		}
	}
	return out
}

// outputArg finds the last media path on an ffmpeg command line.
func outputArg(args []string) string {
	for i := len(args) - 1; i >= 0; i-- {
		a := args[i]
		if strings.HasSuffix(a, ".mov") || strings.HasSuffix(a, ".jpg") || strings.HasSuffix(a, ".mp4") {
			return a
		}
	}
	return ""
}

func probeJSON(width, height int, fps string, duration float64) string {
	return fmt.Sprintf(`{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": %d, "height": %d,
     "r_frame_rate": "%s", "avg_frame_rate": "%s", "duration": "%.6f"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "%.6f"}
}`, width, height, fps, fps, duration, duration)
}

func dirEntries(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
