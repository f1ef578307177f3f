package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// transcodeFrameRate is the frame rate of the canonical container produced by TranscodeContainer.
const transcodeFrameRate = 30

// Options configures a Normalizer.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	WorkDir     string
	VideoCodec  string
	Runner      CommandRunner
	Logger      zerolog.Logger
}

// Normalizer re-encodes source clips with ffmpeg. Every output it creates is
// removed again if the operation fails.
type Normalizer struct {
	ffmpegPath string
	codec      string
	workDir    string
	runner     CommandRunner
	prober     *Prober
	log        zerolog.Logger
	removeFile func(name string) error
	mkdirAll   func(path string, perm os.FileMode) error

	encMu    sync.Mutex
	encoders map[string]bool
}

// NewNormalizer constructs a Normalizer backed by the ffmpeg and ffprobe binaries.
func NewNormalizer(opts Options) *Normalizer {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.VideoCodec == "" {
		opts.VideoCodec = "libx265"
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}

	return &Normalizer{
		ffmpegPath: opts.FFmpegPath,
		codec:      opts.VideoCodec,
		workDir:    opts.WorkDir,
		runner:     opts.Runner,
		prober:     NewProber(opts.FFprobePath, opts.Runner),
		log:        opts.Logger.With().Str("component", "normalizer").Logger(),
		removeFile: os.Remove,
		mkdirAll:   os.MkdirAll,
		encoders:   make(map[string]bool),
	}
}

// Prober exposes the metadata reader shared with downstream stages.
func (n *Normalizer) Prober() *Prober {
	return n.prober
}

// Codec returns the configured video encoder.
func (n *Normalizer) Codec() string {
	return n.codec
}

// NormalizeDuration renders source to exactly target: the clip is padded with
// its frozen last frame (or trimmed) to the target duration, aspect-fill
// scaled and cropped to the target size, and encoded at the target frame rate
// with the HEVC encoder.
func (n *Normalizer) NormalizeDuration(ctx context.Context, sourcePath string, target Target) (*NormalizedVideo, error) {
	const op = "normalize"

	if err := target.validate(); err != nil {
		return nil, &Error{Op: op, Kind: ErrExportFailed, Reason: err.Error(), Path: sourcePath}
	}

	src, err := n.prober.Probe(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	plan, err := PlanPad(src.Duration, src.FrameRate, target.Duration)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrCompositionInsertFailed, Reason: err.Error(), Path: sourcePath, Err: err}
	}

	xf, err := AspectFill(src.Size(), target.Size())
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrCompositionInsertFailed, Reason: err.Error(), Path: sourcePath}
	}

	if err := n.ensureEncoder(ctx); err != nil {
		return nil, err
	}

	dst, err := n.outputPath("normalized")
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrExportFailed, Reason: "cannot prepare work directory", Path: sourcePath, Err: err}
	}

	n.log.Debug().
		Str("source", sourcePath).
		Dur("sourceDuration", src.Duration).
		Float64("sourceFps", src.FrameRate).
		Stringer("sourceSize", src.Size()).
		Int("padFrames", plan.PadFrames).
		Dur("trim", plan.Trim).
		Float64("scale", xf.Scale).
		Msg("normalizing clip")

	ok := false
	defer func() {
		if !ok {
			n.discard(dst)
		}
	}()

	args := normalizeArgs(sourcePath, dst, plan, xf, target, n.codec)
	if err := n.render(ctx, op, sourcePath, args); err != nil {
		return nil, err
	}

	out, err := n.prober.Probe(ctx, dst)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrExportFailed, Reason: "rendered output is unreadable", Path: dst, Err: err}
	}
	if out.Size() != target.Size() {
		return nil, &Error{Op: op, Kind: ErrExportFailed, Reason: fmt.Sprintf("rendered size %s, want %s", out.Size(), target.Size()), Path: dst}
	}
	if diff := absDuration(out.Duration - target.Duration); diff > target.FrameInterval() {
		return nil, &Error{Op: op, Kind: ErrExportFailed, Reason: fmt.Sprintf("rendered duration %v, want %v", out.Duration, target.Duration), Path: dst}
	}

	ok = true
	return &NormalizedVideo{
		Path:       dst,
		Width:      target.Width,
		Height:     target.Height,
		Duration:   target.Duration,
		FrameRate:  target.FrameRate,
		FrameCount: target.FrameCount(),
		Codec:      n.codec,
		Padded:     plan.PadFrames > 0,
		Trimmed:    plan.Trim > 0,
	}, nil
}

// TranscodeContainer re-encodes source into a QuickTime container at its
// native size. No scaling or cropping is applied.
func (n *Normalizer) TranscodeContainer(ctx context.Context, sourcePath string) (*Asset, error) {
	const op = "transcode"

	if _, err := ContainerFor(sourcePath); err != nil {
		return nil, &Error{Op: op, Kind: ErrUnsupportedExtension, Reason: err.Error(), Path: sourcePath}
	}

	if _, err := n.prober.Probe(ctx, sourcePath); err != nil {
		return nil, err
	}

	if err := n.ensureEncoder(ctx); err != nil {
		return nil, err
	}

	dst, err := n.outputPath("transcoded")
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrExportFailed, Reason: "cannot prepare work directory", Path: sourcePath, Err: err}
	}

	ok := false
	defer func() {
		if !ok {
			n.discard(dst)
		}
	}()

	if err := n.render(ctx, op, sourcePath, transcodeArgs(sourcePath, dst, n.codec)); err != nil {
		return nil, err
	}

	out, err := n.prober.Probe(ctx, dst)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrExportFailed, Reason: "transcoded output is unreadable", Path: dst, Err: err}
	}

	ok = true
	return out, nil
}

// EncoderAvailable reports whether the configured encoder is usable by this ffmpeg build.
func (n *Normalizer) EncoderAvailable(ctx context.Context) error {
	return n.ensureEncoder(ctx)
}

func (n *Normalizer) ensureEncoder(ctx context.Context) error {
	if !isHEVC(n.codec) {
		return &Error{Op: "encoder", Kind: ErrUnsupportedEncoderProfile, Reason: fmt.Sprintf("%s is not an HEVC encoder", n.codec)}
	}

	n.encMu.Lock()
	available, cached := n.encoders[n.codec]
	n.encMu.Unlock()

	if !cached {
		cmdLog, err := run(ctx, n.runner, n.ffmpegPath, []string{"-hide_banner", "-encoders"})
		if err != nil {
			return &Error{Op: "encoder", Kind: ErrUnsupportedEncoderProfile, Reason: "cannot list encoders", CommandLog: cmdLog, Err: err}
		}
		available = hasEncoder(cmdLog.Stdout, n.codec)

		n.encMu.Lock()
		n.encoders[n.codec] = available
		n.encMu.Unlock()
	}

	if !available {
		return &Error{Op: "encoder", Kind: ErrUnsupportedEncoderProfile, Reason: fmt.Sprintf("encoder %s is not available", n.codec)}
	}
	return nil
}

func (n *Normalizer) render(ctx context.Context, op, sourcePath string, args []string) error {
	started := time.Now()
	cmdLog, err := run(ctx, n.runner, n.ffmpegPath, args)
	if err != nil {
		reason := tail(cmdLog.Stderr, 512)
		if ctxErr := ctx.Err(); ctxErr != nil {
			reason = "export cancelled"
			err = errors.Join(err, ctxErr)
		}
		return &Error{Op: op, Kind: ErrExportFailed, Reason: reason, Path: sourcePath, CommandLog: cmdLog, Err: err}
	}

	n.log.Debug().Str("op", op).Dur("elapsed", time.Since(started)).Msg("ffmpeg finished")
	return nil
}

func (n *Normalizer) outputPath(prefix string) (string, error) {
	if err := n.mkdirAll(n.workDir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(n.workDir, fmt.Sprintf("%s-%s.mov", prefix, uuid.NewString())), nil
}

func (n *Normalizer) discard(path string) {
	if err := n.removeFile(path); err != nil && !os.IsNotExist(err) {
		n.log.Warn().Err(err).Str("path", path).Msg("failed to remove partial output")
	}
}

// normalizeArgs builds the ffmpeg command line for NormalizeDuration. The
// filter chain is tpad (freeze-frame pad, cloning the last decoded frame),
// fps, scale and crop; -t and -frames:v cut the overshoot to the exact target.
func normalizeArgs(src, dst string, plan PadPlan, xf Transform, target Target, codec string) []string {
	stream := ffmpeg.Input(src)
	if plan.PadFrames > 0 {
		stream = stream.Filter("tpad", ffmpeg.Args{}, ffmpeg.KwArgs{
			"stop_mode":     "clone",
			"stop_duration": formatSeconds(plan.PadDuration()),
		})
	}
	stream = stream.
		Filter("fps", ffmpeg.Args{strconv.Itoa(target.FrameRate)}).
		Filter("scale", ffmpeg.Args{strconv.Itoa(xf.ScaledWidth), strconv.Itoa(xf.ScaledHeight)}, ffmpeg.KwArgs{"flags": "lanczos"}).
		Filter("crop", ffmpeg.Args{
			strconv.Itoa(target.Width),
			strconv.Itoa(target.Height),
			strconv.Itoa(xf.CropX),
			strconv.Itoa(xf.CropY),
		}).
		Filter("setsar", ffmpeg.Args{"1"})

	kwargs := encoderArgs(codec)
	kwargs["t"] = formatSeconds(target.Duration)
	kwargs["frames:v"] = strconv.Itoa(target.FrameCount())
	kwargs["r"] = strconv.Itoa(target.FrameRate)
	kwargs["an"] = ""

	return stream.Output(dst, kwargs).OverWriteOutput().GetArgs()
}

// transcodeArgs builds the ffmpeg command line for TranscodeContainer.
func transcodeArgs(src, dst, codec string) []string {
	kwargs := encoderArgs(codec)
	kwargs["r"] = strconv.Itoa(transcodeFrameRate)
	kwargs["c:a"] = "aac"
	kwargs["map_metadata"] = "0"

	return ffmpeg.Input(src).Output(dst, kwargs).OverWriteOutput().GetArgs()
}

func encoderArgs(codec string) ffmpeg.KwArgs {
	kwargs := ffmpeg.KwArgs{
		"c:v":      codec,
		"pix_fmt":  "yuv420p",
		"movflags": "+faststart",
		"f":        "mov",
	}
	if isHEVC(codec) {
		// QuickTime and Photos only play HEVC tagged hvc1
		kwargs["tag:v"] = "hvc1"
	}
	if codec == "libx265" {
		kwargs["profile:v"] = "main"
		kwargs["x265-params"] = "log-level=error"
	}
	return kwargs
}

func isHEVC(codec string) bool {
	return codec == "libx265" || strings.HasPrefix(codec, "hevc")
}

// hasEncoder scans `ffmpeg -encoders` output for an exact encoder name.
func hasEncoder(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
