package parser

import "errors"

var (
	// ErrEmptyInput is returned when the input has no header line.
	ErrEmptyInput = errors.New("parser: empty input")

	// ErrNoRows is returned when a table has a header but no data rows.
	ErrNoRows = errors.New("parser: no data rows")
)
