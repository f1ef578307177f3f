package livephoto

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/livewall/api/internal/media"
)

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	FFmpegPath string
	OutputDir  string
	Runner     media.CommandRunner
	Logger     zerolog.Logger
}

// Builder derives Live Photo bundles from normalized videos. It never deletes
// its input; on failure it removes the partial bundle directory.
type Builder struct {
	ffmpegPath string
	outputDir  string
	runner     media.CommandRunner
	log        zerolog.Logger
	newID      func() string
	now        func() time.Time
	stat       func(name string) (os.FileInfo, error)
	mkdirAll   func(path string, perm os.FileMode) error
	removeAll  func(path string) error
	writeFile  func(name string, data []byte, perm os.FileMode) error
}

// NewBuilder constructs a Builder that writes bundles under opts.OutputDir.
func NewBuilder(opts BuilderOptions) *Builder {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.OutputDir == "" {
		opts.OutputDir = filepath.Join(os.TempDir(), "livephotos")
	}
	if opts.Runner == nil {
		opts.Runner = media.ExecRunner{}
	}

	return &Builder{
		ffmpegPath: opts.FFmpegPath,
		outputDir:  opts.OutputDir,
		runner:     opts.Runner,
		log:        opts.Logger.With().Str("component", "livephoto-builder").Logger(),
		newID:      func() string { return strings.ToUpper(uuid.NewString()) },
		now:        time.Now,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		removeAll:  os.RemoveAll,
		writeFile:  os.WriteFile,
	}
}

// Build extracts the midpoint still of video and pairs it with a copy of the
// motion resource tagged with the same content identifier.
func (b *Builder) Build(ctx context.Context, video media.NormalizedVideo) (*Bundle, error) {
	if info, err := b.stat(video.Path); err != nil || info.IsDir() {
		return nil, &Error{Kind: ErrFrameExtractionFailed, Reason: fmt.Sprintf("normalized video unreadable: %s", video.Path), Err: err}
	}
	if video.Duration <= 0 {
		return nil, &Error{Kind: ErrFrameExtractionFailed, Reason: "normalized video has no duration"}
	}

	bundle := &Bundle{
		id:        b.newID(),
		stillTime: video.Duration / 2,
		duration:  video.Duration,
		size:      video.Size(),
		frameRate: video.FrameRate,
		createdAt: b.now().UTC(),
	}
	bundle.dir = filepath.Join(b.outputDir, bundle.id)

	if err := b.mkdirAll(bundle.dir, 0o755); err != nil {
		return nil, &Error{Kind: ErrBundleAssemblyFailed, Reason: "cannot create bundle directory", Err: err}
	}

	ok := false
	defer func() {
		if !ok {
			if err := b.removeAll(bundle.dir); err != nil {
				b.log.Warn().Err(err).Str("dir", bundle.dir).Msg("failed to remove partial bundle")
			}
		}
	}()

	stillArgs := stillFrameArgs(video.Path, bundle.StillPath(), bundle.stillTime, bundle.size)
	if cmdLog, err := b.run(ctx, stillArgs); err != nil {
		return nil, &Error{Kind: ErrFrameExtractionFailed, Reason: "ffmpeg could not decode the midpoint frame", CommandLog: cmdLog, Err: err}
	}
	if info, err := b.stat(bundle.StillPath()); err != nil || info.Size() == 0 {
		return nil, &Error{Kind: ErrFrameExtractionFailed, Reason: "still image was not written", Err: err}
	}

	motionArgs := motionArgs(video.Path, bundle.MotionPath(), bundle.id, bundle.stillTime)
	if cmdLog, err := b.run(ctx, motionArgs); err != nil {
		return nil, &Error{Kind: ErrBundleAssemblyFailed, Reason: "cannot tag motion resource", CommandLog: cmdLog, Err: err}
	}
	if _, err := b.stat(bundle.MotionPath()); err != nil {
		return nil, &Error{Kind: ErrBundleAssemblyFailed, Reason: "motion resource was not written", Err: err}
	}

	manifest, err := json.MarshalIndent(bundle.Manifest(), "", "  ")
	if err != nil {
		return nil, &Error{Kind: ErrBundleAssemblyFailed, Reason: "cannot encode manifest", Err: err}
	}
	if err := b.writeFile(bundle.ManifestPath(), manifest, 0o644); err != nil {
		return nil, &Error{Kind: ErrBundleAssemblyFailed, Reason: "cannot write manifest", Err: err}
	}

	b.log.Debug().Str("assetId", bundle.id).Str("dir", bundle.dir).Msg("bundle assembled")

	ok = true
	return bundle, nil
}

func (b *Builder) run(ctx context.Context, args []string) (media.CommandLog, error) {
	res, err := b.runner.Run(ctx, b.ffmpegPath, args...)
	return media.CommandLog{
		Command:  b.ffmpegPath,
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}, err
}

// stillFrameArgs decodes exactly one frame at ts. Seeking after the input is
// opened keeps the seek frame-accurate; ffmpeg applies display rotation.
func stillFrameArgs(src, dst string, ts time.Duration, size media.Size) []string {
	return ffmpeg.Input(src).
		Output(dst, ffmpeg.KwArgs{
			"ss":       fmt.Sprintf("%.6f", ts.Seconds()),
			"frames:v": "1",
			"q:v":      "2",
			"s":        size.String(),
			"f":        "image2",
		}).
		OverWriteOutput().
		GetArgs()
}

// motionArgs copies the normalized stream into the bundle and stamps the
// QuickTime keys that link it to the still.
func motionArgs(src, dst, assetID string, stillTime time.Duration) []string {
	return ffmpeg.Input(src).
		Output(dst, ffmpeg.KwArgs{
			"c":        "copy",
			"f":        "mov",
			"movflags": "use_metadata_tags",
			"metadata": []string{
				contentIdentifierKey + "=" + assetID,
				stillImageTimeKey + "=" + fmt.Sprintf("%.6f", stillTime.Seconds()),
			},
		}).
		OverWriteOutput().
		GetArgs()
}
