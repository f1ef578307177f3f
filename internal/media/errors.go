package media

import (
	"errors"
	"fmt"
)

// Failure kinds of the normalizer. Match with errors.Is.
var (
	ErrCannotLoadMetadata        = errors.New("cannot load metadata")
	ErrNoVideoTrack              = errors.New("no video track")
	ErrCompositionInsertFailed   = errors.New("composition insert failed")
	ErrUnsupportedEncoderProfile = errors.New("unsupported encoder profile")
	ErrExportFailed              = errors.New("export failed")
	ErrUnsupportedExtension      = errors.New("unsupported file extension")
)

// Error is a stage-aware normalizer failure.
type Error struct {
	Op         string     `json:"op"`
	Kind       error      `json:"-"`
	Reason     string     `json:"reason,omitempty"`
	Path       string     `json:"path,omitempty"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.CommandLog.Command != "" {
		msg += fmt.Sprintf(" (cmd=%s exit=%d)", e.CommandLog.Command, e.CommandLog.ExitCode)
	}
	return msg
}

// Unwrap exposes both the failure kind and the underlying cause.
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

// IsInputError reports whether err is caused by the source itself rather than the encoder.
func IsInputError(err error) bool {
	return errors.Is(err, ErrCannotLoadMetadata) ||
		errors.Is(err, ErrNoVideoTrack) ||
		errors.Is(err, ErrUnsupportedExtension)
}
