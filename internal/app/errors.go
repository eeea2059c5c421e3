package app

import (
	"errors"
	"fmt"
	"net/http"

	"redline/api/internal/analysis"
	"redline/api/internal/review"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errReviewNotFound = domainError(http.StatusNotFound, "REVIEW_NOT_FOUND", "Review not found", nil)

func isNotFound(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Status == http.StatusNotFound
}

// upstreamError classifies a failed call into the analysis service. Session
// state errors pass through unchanged.
func upstreamError(err error) error {
	if err == nil {
		return nil
	}
	for _, passthrough := range []error{
		review.ErrStale, review.ErrNotReady, review.ErrEmptyFile, review.ErrIssueNotFound,
	} {
		if errors.Is(err, passthrough) {
			return err
		}
	}
	var statusErr *analysis.StatusError
	if errors.As(err, &statusErr) && statusErr.Validation() {
		message := statusErr.Message
		if message == "" {
			message = "Analysis service rejected the document"
		}
		return domainError(http.StatusUnprocessableEntity, "ANALYSIS_REJECTED", message, map[string]any{
			"upstreamStatus": statusErr.StatusCode,
		})
	}
	return &DomainError{
		Status:  http.StatusBadGateway,
		Code:    "ANALYSIS_FAILED",
		Message: "Analysis service request failed",
		Details: map[string]any{"reason": err.Error()},
	}
}
