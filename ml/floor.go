package ml

import (
	"strconv"
	"strings"
)

const floorSeparator = " out of "

// Floor is the parsed form of a "<floor> out of <total>" descriptor.
// HasNum and HasTotal are false when the matching part was absent or
// unparseable.
type Floor struct {
	Num      int
	Total    int
	HasNum   bool
	HasTotal bool
}

// ParseFloor never fails: text it cannot understand degrades to a missing
// value and is left for imputation.
func ParseFloor(raw *string) Floor {
	var floor Floor
	if raw == nil {
		return floor
	}

	parts := strings.Split(*raw, floorSeparator)
	if len(parts) == 2 {
		if total, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
			floor.Total = total
			floor.HasTotal = true
		}
	}

	level := strings.TrimSpace(strings.ToLower(parts[0]))
	switch {
	case strings.Contains(level, "ground"):
		floor.Num, floor.HasNum = 0, true
	case strings.Contains(level, "upper basement"):
		floor.Num, floor.HasNum = -1, true
	case strings.Contains(level, "lower basement"):
		floor.Num, floor.HasNum = -2, true
	default:
		if n, err := strconv.Atoi(level); err == nil {
			floor.Num, floor.HasNum = n, true
		}
	}
	return floor
}
