// Package mclog parses Minecraft dedicated-server console lines.
package mclog

import (
	"errors"
	"strings"
)

var (
	ErrTooShort      = errors.New("too short")
	ErrInvalidFormat = errors.New("invalid format")
	ErrNoSrcSegment  = errors.New("invalid format, no src segment found")
	ErrNoLabelStart  = errors.New("error finding label start")
	ErrNoLabelEnd    = errors.New("error finding label end")
	ErrNoContent     = errors.New("invalid content")
)

// Parse extracts the label and content out of a console line of the form:
//
//	[hh:mm:ss] [src] [label]: content
//
// The timestamp digits are not validated, only the bracket/colon positions.
func Parse(line string) (label, content string, err error) {
	if len(line) < 13 {
		return "", "", ErrTooShort
	}

	if line[0] != '[' ||
		line[3] != ':' ||
		line[6] != ':' ||
		line[9] != ']' ||
		line[10] != ' ' ||
		line[11] != '[' {
		return "", "", ErrInvalidFormat
	}

	// the label segment opens 3 bytes past the src segment's closing bracket
	srcEnd := strings.IndexByte(line[12:], ']')
	if srcEnd < 0 {
		return "", "", ErrNoSrcSegment
	}
	labelStart := srcEnd + 15
	if len(line) <= labelStart {
		return "", "", ErrNoLabelStart
	}

	labelEnd := strings.IndexByte(line[labelStart:], ']')
	if labelEnd < 0 {
		return "", "", ErrNoLabelEnd
	}
	labelEnd += labelStart

	// content starts after "]: "
	contentStart := labelEnd + 3
	if len(line) <= contentStart {
		return "", "", ErrNoContent
	}

	return line[labelStart:labelEnd], line[contentStart:], nil
}
