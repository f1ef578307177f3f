package media

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Container is a video container format keyed by file extension.
type Container string

const (
	ContainerMOV Container = "mov"
	ContainerMP4 Container = "mp4"
	ContainerM4V Container = "m4v"
	ContainerAVI Container = "avi"
)

var supportedContainers = map[string]Container{
	".mov": ContainerMOV,
	".mp4": ContainerMP4,
	".m4v": ContainerM4V,
	".avi": ContainerAVI,
}

// ContainerFor maps a path to its container, or ErrUnsupportedExtension.
func ContainerFor(path string) (Container, error) {
	ext := strings.ToLower(filepath.Ext(path))
	c, ok := supportedContainers[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}
	return c, nil
}

// Size is a pixel size.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Asset describes a probed video file. Width and Height are display
// dimensions, i.e. after applying the track rotation.
type Asset struct {
	Path      string        `json:"path"`
	Container Container     `json:"container"`
	Duration  time.Duration `json:"duration"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	FrameRate float64       `json:"frameRate"`
	Rotation  int           `json:"rotation"`
	Codec     string        `json:"codec"`
	HasAudio  bool          `json:"hasAudio"`
}

func (a Asset) Size() Size {
	return Size{Width: a.Width, Height: a.Height}
}

// Target is the fixed output shape of NormalizeDuration.
type Target struct {
	Width     int
	Height    int
	Duration  time.Duration
	FrameRate int
}

// DefaultTarget is the portrait Live Photo shape: 1080x1920, 2s, 60fps.
func DefaultTarget() Target {
	return Target{Width: 1080, Height: 1920, Duration: 2 * time.Second, FrameRate: 60}
}

// String renders the target as "1080x1920@60fps/2s".
func (t Target) String() string {
	return fmt.Sprintf("%s@%dfps/%s", t.Size(), t.FrameRate, t.Duration)
}

func (t Target) Size() Size {
	return Size{Width: t.Width, Height: t.Height}
}

// FrameInterval is the duration of one output frame.
func (t Target) FrameInterval() time.Duration {
	return time.Duration(float64(time.Second) / float64(t.FrameRate))
}

// FrameCount is the exact number of frames a normalized video carries.
func (t Target) FrameCount() int {
	return int(t.Duration.Seconds()*float64(t.FrameRate) + 0.5)
}

func (t Target) validate() error {
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("target size must be positive, got %dx%d", t.Width, t.Height)
	}
	if t.Duration <= 0 {
		return fmt.Errorf("target duration must be positive, got %v", t.Duration)
	}
	if t.FrameRate <= 0 {
		return fmt.Errorf("target frame rate must be positive, got %d", t.FrameRate)
	}
	return nil
}

// NormalizedVideo is the output of NormalizeDuration. Its duration equals the
// target duration and its size equals the target size.
type NormalizedVideo struct {
	Path       string        `json:"path"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	Duration   time.Duration `json:"duration"`
	FrameRate  int           `json:"frameRate"`
	FrameCount int           `json:"frameCount"`
	Codec      string        `json:"codec"`
	Padded     bool          `json:"padded"`
	Trimmed    bool          `json:"trimmed"`
}

func (v NormalizedVideo) Size() Size {
	return Size{Width: v.Width, Height: v.Height}
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.6f", d.Seconds())
}
