package store

import "errors"

var (
	// ErrReportNotFound indicates the fleet run report does not exist.
	ErrReportNotFound = errors.New("report not found")
)
