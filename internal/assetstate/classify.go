package assetstate

import (
	"errors"

	"github.com/livewall/api/internal/livephoto"
	"github.com/livewall/api/internal/media"
)

// ErrorKindFor classifies a pipeline failure. Bundle errors are checked first
// so "normalized but no Live Photo" never reads as a normalization failure.
func ErrorKindFor(err error) ErrorKind {
	var mediaErr *media.Error
	switch {
	case err == nil:
		return ""
	case livephoto.IsBundleError(err):
		return ErrorBundle
	case media.IsInputError(err):
		return ErrorInput
	case errors.As(err, &mediaErr):
		return ErrorNormalization
	default:
		return ErrorInternal
	}
}
