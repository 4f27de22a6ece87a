// Package classify maps grayscale readings to line position and drop-off
// decisions. A reading at or below the threshold counts as triggered.
package classify

import "codeberg.org/mutker/picarctl/internal/grayscale"

// LineStatus is where the line sits under the sensor array.
type LineStatus int

const (
	Unknown LineStatus = iota
	Left
	Center
	Right
)

func (s LineStatus) String() string {
	switch s {
	case Left:
		return "left"
	case Center:
		return "center"
	case Right:
		return "right"
	default:
		return "unknown"
	}
}

// Line classifies r against threshold. Channels are checked center, left,
// right; the first one at or below threshold wins, so a center hit always
// resolves to Center.
func Line(threshold int, r grayscale.Reading) LineStatus {
	switch {
	case r.Center() <= threshold:
		return Center
	case r.Left() <= threshold:
		return Left
	case r.Right() <= threshold:
		return Right
	default:
		return Unknown
	}
}

// IsEdge reports whether any channel is at or below threshold, meaning no
// reflective surface is under that sensor.
func IsEdge(threshold int, r grayscale.Reading) bool {
	return r.Left() <= threshold || r.Center() <= threshold || r.Right() <= threshold
}
