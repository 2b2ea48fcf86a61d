package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedCSV        = errors.New("malformed csv")
	ErrNoValidRows         = errors.New("no valid rows")
	ErrUndefinedScore      = errors.New("efficiency score undefined for zero spend")
	ErrAccountNotFound     = errors.New("account not found")
	ErrUploadNotFound      = errors.New("upload not found")
	ErrAnalysisNotFound    = errors.New("analysis not found")
	ErrDeliverableNotFound = errors.New("deliverable not found")
	ErrObjectNotFound      = errors.New("object not found")
	ErrFileTooLarge        = errors.New("file too large")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
)

// NoValidRowsError reports a file that yielded nothing to analyze. A file
// with no data rows at all and a file whose rows were all rejected are told
// apart by TotalRecords.
type NoValidRowsError struct {
	TotalRecords int
	InvalidRows  int
}

func (e *NoValidRowsError) Error() string {
	if e.TotalRecords == 0 {
		return "no valid rows: file contains no data rows"
	}
	return fmt.Sprintf("no valid rows: %d rows, %d invalid", e.TotalRecords, e.InvalidRows)
}

func (e *NoValidRowsError) Is(target error) bool {
	return target == ErrNoValidRows
}
