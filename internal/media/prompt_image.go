package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// mjpeg quantizer for prompt images, 2 is best and 31 worst
const promptImageQuality = 4

// PrepareImage re-encodes an image as a JPEG whose longer side is at most
// maxDimension. Smaller images keep their size. The returned file belongs to
// the caller.
func (n *Normalizer) PrepareImage(ctx context.Context, sourcePath string, maxDimension int) (string, error) {
	const op = "prepare image"

	if maxDimension <= 0 {
		return "", &Error{Op: op, Kind: ErrExportFailed, Reason: fmt.Sprintf("invalid max dimension %d", maxDimension), Path: sourcePath}
	}
	if err := n.mkdirAll(n.workDir, 0o755); err != nil {
		return "", &Error{Op: op, Kind: ErrExportFailed, Reason: "cannot prepare work directory", Path: sourcePath, Err: err}
	}

	dst := filepath.Join(n.workDir, fmt.Sprintf("prompt-%s.jpg", uuid.NewString()))
	if err := n.render(ctx, op, sourcePath, promptImageArgs(sourcePath, dst, maxDimension)); err != nil {
		n.discard(dst)
		return "", err
	}
	return dst, nil
}

// promptImageArgs scales down to fit a maxDimension square, keeping the aspect
// ratio, and writes a single JPEG frame.
func promptImageArgs(src, dst string, maxDimension int) []string {
	bound := strconv.Itoa(maxDimension)
	return ffmpeg.Input(src).
		Filter("scale", ffmpeg.Args{"min(" + bound + ",iw)", "min(" + bound + ",ih)"}, ffmpeg.KwArgs{
			"force_original_aspect_ratio": "decrease",
		}).
		Output(dst, ffmpeg.KwArgs{
			"frames:v": "1",
			"q:v":      strconv.Itoa(promptImageQuality),
			"f":        "image2",
		}).
		OverWriteOutput().
		GetArgs()
}
