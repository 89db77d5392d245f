package imagegen

import (
	"errors"
	"time"

	"github.com/kiranshivaraju/merchmate/pkg/models"
)

// User-facing messages stored on failed jobs.
const (
	MsgRateLimited    = "API quota exceeded. Please try again later."
	MsgGenerateFailed = "Failed to generate"
)

var ErrUnknownBackend = errors.New("unknown generator backend")

// Classify maps a generator error to the kind and message recorded on the job.
// Errors that are not a *models.GenerationError are transport failures.
func Classify(err error) (models.ErrorKind, string) {
	if err == nil {
		return models.ErrorKindTransportFailure, MsgGenerateFailed
	}

	var genErr *models.GenerationError
	if !errors.As(err, &genErr) {
		return models.ErrorKindTransportFailure, err.Error()
	}

	switch genErr.Kind {
	case models.ErrorKindRateLimited:
		return models.ErrorKindRateLimited, MsgRateLimited
	case models.ErrorKindBackendFailure:
		if genErr.Message != "" {
			return models.ErrorKindBackendFailure, genErr.Message
		}
		return models.ErrorKindBackendFailure, MsgGenerateFailed
	default:
		switch {
		case genErr.Err != nil:
			return models.ErrorKindTransportFailure, genErr.Err.Error()
		case genErr.Message != "":
			return models.ErrorKindTransportFailure, genErr.Message
		}
		return models.ErrorKindTransportFailure, MsgGenerateFailed
	}
}

// RetryAfter returns the backend's retry hint for a rate-limited error, or zero.
func RetryAfter(err error) time.Duration {
	var genErr *models.GenerationError
	if !errors.As(err, &genErr) || genErr.Kind != models.ErrorKindRateLimited {
		return 0
	}
	if genErr.RetryAfter <= 0 {
		return models.DefaultRetryAfter
	}
	return genErr.RetryAfter
}
