package livephoto

import (
	"errors"
	"fmt"

	"github.com/livewall/api/internal/media"
)

// Failure kinds of the bundle builder, distinct from the media.Err* kinds so
// callers can tell "not normalized" from "normalized but no Live Photo".
var (
	ErrFrameExtractionFailed = errors.New("frame extraction failed")
	ErrBundleAssemblyFailed  = errors.New("bundle assembly failed")
)

// Error is a bundle builder failure.
type Error struct {
	Kind       error            `json:"-"`
	Reason     string           `json:"reason,omitempty"`
	CommandLog media.CommandLog `json:"commandLog"`
	Err        error            `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("build: %v", e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.CommandLog.Command != "" {
		msg += fmt.Sprintf(" (cmd=%s exit=%d)", e.CommandLog.Command, e.CommandLog.ExitCode)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsBundleError reports whether err came from bundle assembly rather than normalization.
func IsBundleError(err error) bool {
	return errors.Is(err, ErrFrameExtractionFailed) || errors.Is(err, ErrBundleAssemblyFailed)
}
