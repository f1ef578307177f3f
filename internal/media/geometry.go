package media

import (
	"fmt"
	"math"
)

// Transform is an aspect-fill placement of a source frame inside a target
// frame. Scale and Translate describe the affine transform in output pixel
// space; ScaledWidth/ScaledHeight and CropX/CropY are the integer scale and
// crop the encoder applies.
type Transform struct {
	Scale        float64 `json:"scale"`
	TranslateX   float64 `json:"translateX"`
	TranslateY   float64 `json:"translateY"`
	ScaledWidth  int     `json:"scaledWidth"`
	ScaledHeight int     `json:"scaledHeight"`
	CropX        int     `json:"cropX"`
	CropY        int     `json:"cropY"`
	Output       Size    `json:"output"`
}

// CropsWidth reports whether overflow is cut from the left and right edges.
func (t Transform) CropsWidth() bool {
	return t.ScaledWidth > t.Output.Width
}

// AspectFill scales src uniformly so it covers dst and centers the overflow.
// A source wider than the target (by aspect) is scaled by height and cropped
// left/right; otherwise it is scaled by width and cropped top/bottom.
func AspectFill(src, dst Size) (Transform, error) {
	if src.Width <= 0 || src.Height <= 0 {
		return Transform{}, fmt.Errorf("invalid source size %s", src)
	}
	if dst.Width <= 0 || dst.Height <= 0 {
		return Transform{}, fmt.Errorf("invalid target size %s", dst)
	}

	t := Transform{Output: dst}

	// src.W/src.H > dst.W/dst.H, compared without floating point
	if src.Width*dst.Height > dst.Width*src.Height {
		t.Scale = float64(dst.Height) / float64(src.Height)
		scaledW := float64(src.Width) * t.Scale
		t.TranslateX = -(scaledW - float64(dst.Width)) / 2
		t.ScaledWidth = max(evenCeil(scaledW), dst.Width)
		t.ScaledHeight = dst.Height
	} else {
		t.Scale = float64(dst.Width) / float64(src.Width)
		scaledH := float64(src.Height) * t.Scale
		t.TranslateY = -(scaledH - float64(dst.Height)) / 2
		t.ScaledWidth = dst.Width
		t.ScaledHeight = max(evenCeil(scaledH), dst.Height)
	}

	t.CropX = (t.ScaledWidth - dst.Width) / 2
	t.CropY = (t.ScaledHeight - dst.Height) / 2
	return t, nil
}

// evenCeil rounds v up to the next even integer; 4:2:0 chroma needs even dimensions.
func evenCeil(v float64) int {
	n := int(math.Ceil(v - 1e-6))
	if n%2 != 0 {
		n++
	}
	return n
}
