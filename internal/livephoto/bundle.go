package livephoto

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/livewall/api/internal/media"
)

const (
	stillFileName    = "still.jpg"
	motionFileName   = "motion.mov"
	manifestFileName = "manifest.json"

	// QuickTime metadata key Photos uses to pair a still with its motion resource.
	contentIdentifierKey = "com.apple.quicktime.content.identifier"
	stillImageTimeKey    = "com.apple.quicktime.still-image-time"
)

// Manifest is the on-disk description of a bundle directory.
type Manifest struct {
	AssetIdentifier string    `json:"assetIdentifier"`
	Still           string    `json:"still"`
	Motion          string    `json:"motion"`
	StillTime       float64   `json:"stillTimeSeconds"`
	Duration        float64   `json:"durationSeconds"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	FrameRate       int       `json:"frameRate"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Bundle is a still image paired with its motion video through a shared
// asset identifier. It is immutable once built.
type Bundle struct {
	id        string
	dir       string
	stillTime time.Duration
	duration  time.Duration
	size      media.Size
	frameRate int
	createdAt time.Time
}

func (b *Bundle) ID() string               { return b.id }
func (b *Bundle) Dir() string              { return b.dir }
func (b *Bundle) StillPath() string        { return filepath.Join(b.dir, stillFileName) }
func (b *Bundle) MotionPath() string       { return filepath.Join(b.dir, motionFileName) }
func (b *Bundle) ManifestPath() string     { return filepath.Join(b.dir, manifestFileName) }
func (b *Bundle) StillTime() time.Duration { return b.stillTime }
func (b *Bundle) Duration() time.Duration  { return b.duration }
func (b *Bundle) Size() media.Size         { return b.size }
func (b *Bundle) FrameRate() int           { return b.frameRate }
func (b *Bundle) CreatedAt() time.Time     { return b.createdAt }

// Manifest returns the serializable description of the bundle.
func (b *Bundle) Manifest() Manifest {
	return Manifest{
		AssetIdentifier: b.id,
		Still:           stillFileName,
		Motion:          motionFileName,
		StillTime:       b.stillTime.Seconds(),
		Duration:        b.duration.Seconds(),
		Width:           b.size.Width,
		Height:          b.size.Height,
		FrameRate:       b.frameRate,
		CreatedAt:       b.createdAt,
	}
}

// Open reconstructs a bundle from a directory written by Builder.Build.
func Open(dir string) (*Bundle, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.AssetIdentifier == "" {
		return nil, fmt.Errorf("manifest in %s has no asset identifier", dir)
	}

	b := &Bundle{
		id:        m.AssetIdentifier,
		dir:       dir,
		stillTime: secondsToDuration(m.StillTime),
		duration:  secondsToDuration(m.Duration),
		size:      media.Size{Width: m.Width, Height: m.Height},
		frameRate: m.FrameRate,
		createdAt: m.CreatedAt,
	}
	for _, p := range []string{b.StillPath(), b.MotionPath()} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("bundle resource missing: %w", err)
		}
	}
	return b, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
