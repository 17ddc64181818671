package parser

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	bferrors "github.com/beamflow/beamflow/pkg/errors"
)

// RealizedModes lists the columns of a header-less realized mode choice file.
var RealizedModes = []string{
	"bike", "car", "cav", "drive_transit", "ride_hail",
	"ride_hail_pooled", "ride_hail_transit", "walk", "walk_transit",
}

// ModeShares maps mode name to its realized share.
type ModeShares map[string]float64

// ParseRealizedModeChoice returns the last row of a realized mode choice
// table. Files with a header row are mapped by name, with modes the header
// lacks set to zero; header-less files use the RealizedModes column order.
func ParseRealizedModeChoice(r io.Reader) (ModeShares, error) {
	scanner := NewScanner(',')
	br := bufio.NewReader(r)

	var header []string
	var last []string
	for {
		line, err := br.ReadBytes('\n')
		if len(trimLineEnding(line)) > 0 {
			fields := scanner.ScanLine(line)
			row := make([]string, len(fields))
			for i, f := range fields {
				row[i] = strings.TrimSpace(string(f))
			}
			if header == nil && last == nil && !numericRow(row) {
				header = row
			} else {
				last = row
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, bferrors.Wrap(err, bferrors.CodeReadFailed, "read realized mode choice")
		}
	}
	if last == nil {
		return nil, bferrors.Wrap(ErrNoRows, bferrors.CodeInvalidFormat, "realized mode choice has no rows")
	}

	names := header
	if names == nil {
		names = RealizedModes
	}
	shares := make(ModeShares, len(RealizedModes))
	for _, m := range RealizedModes {
		shares[m] = 0
	}
	for i, name := range names {
		if i >= len(last) {
			break
		}
		if header != nil && !isRealizedMode(name) {
			continue
		}
		v, err := strconv.ParseFloat(last[i], 64)
		if err != nil {
			return nil, bferrors.InvalidNumber(name, last[i], 0)
		}
		shares[name] = v
	}
	return shares, nil
}

// numericRow reports whether the first cell parses as a number.
func numericRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	_, err := strconv.ParseFloat(row[0], 64)
	return err == nil
}

func isRealizedMode(name string) bool {
	for _, m := range RealizedModes {
		if m == name {
			return true
		}
	}
	return false
}
