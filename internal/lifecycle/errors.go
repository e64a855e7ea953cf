package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"talentflex/internal/application"
)

var (
	ErrNotFound                = errors.New("application not found")
	ErrInvalidSlot             = errors.New("invalid file slot")
	ErrInvalidFileRef          = errors.New("invalid file reference")
	ErrApplicationLocked       = errors.New("application is locked: replace the file instead of uploading")
	ErrIncompleteSubmission    = errors.New("required files are missing")
	ErrAnalysisInProgress      = errors.New("analysis already in progress")
	ErrAnalysisEngineFailure   = errors.New("analysis engine failure")
	ErrAnalysisTimeout         = fmt.Errorf("%w: timeout", ErrAnalysisEngineFailure)
	ErrStaleAnalysis           = errors.New("analysis result is stale")
	ErrNotReadyToSubmit        = errors.New("application is not ready to submit")
	ErrApplicationNotSubmitted = errors.New("application has not been submitted")
	ErrInvalidTransition       = errors.New("invalid transition")
	ErrAlreadyClaimed          = errors.New("application already claimed by another candidate")
	ErrInvalidDecision         = errors.New("invalid decision")
	ErrInvalidPosting          = errors.New("invalid job posting")
)

// IncompleteSubmissionError lists the required slots that have no file.
type IncompleteSubmissionError struct {
	Missing []application.FileType
}

func (e *IncompleteSubmissionError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		names = append(names, string(m))
	}
	return fmt.Sprintf("%s: %s", ErrIncompleteSubmission.Error(), strings.Join(names, ", "))
}

func (e *IncompleteSubmissionError) Is(target error) bool {
	return target == ErrIncompleteSubmission
}

// Retryable reports whether calling RequestAnalysis again may succeed without changing state first.
func Retryable(err error) bool {
	return errors.Is(err, ErrAnalysisEngineFailure)
}
