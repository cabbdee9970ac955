// Package mesh defines grid levels and the grid-generation boundary used by the loader.
//
// The loader treats grid generation as an external collaborator: it only needs to expand a
// root code into child codes at a level and to ask for a corner point of each cell. Grid is
// that boundary. JIS is the implementation shipped with the binary; it covers the standard
// JIS X 0410 regional mesh levels 1 through 6.
package mesh

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is the refinement tier of a grid code.
type Level int

const (
	Lv1 Level = 1 // 80km
	Lv2 Level = 2 // 10km
	Lv3 Level = 3 // 1km
	Lv4 Level = 4 // 500m
	Lv5 Level = 5 // 250m
	Lv6 Level = 6 // 125m
)

// Levels lists every supported level, coarse to fine.
var Levels = []Level{Lv1, Lv2, Lv3, Lv4, Lv5, Lv6}

var levelSizes = map[Level]string{
	Lv1: "80km",
	Lv2: "10km",
	Lv3: "1km",
	Lv4: "500m",
	Lv5: "250m",
	Lv6: "125m",
}

// codeDigits is the number of decimal digits of a code at each level. Every level has a
// distinct width, so a code identifies its own level.
var codeDigits = map[Level]int{
	Lv1: 4,
	Lv2: 6,
	Lv3: 8,
	Lv4: 9,
	Lv5: 10,
	Lv6: 11,
}

// Valid reports whether l is a supported level.
func (l Level) Valid() bool {
	_, ok := codeDigits[l]
	return ok
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return "Lv" + strconv.Itoa(int(l))
}

// Size is the approximate edge length of a cell, e.g. "1km".
func (l Level) Size() string {
	return levelSizes[l]
}

// Label is the human-readable enum label used in table metadata.
func (l Level) Label() string {
	return fmt.Sprintf("%s (%s)", l, l.Size())
}

// extendedLevels are the non-standard X-levels of the wider mesh family with their cell
// sizes. They are recognised only to reject them clearly.
var extendedLevels = map[string]string{
	"X40":  "40km",
	"X20":  "20km",
	"X16":  "16km",
	"X8":   "8km",
	"X5":   "5km",
	"X4":   "4km",
	"X2.5": "2.5km",
	"X2":   "2km",
	"X1":   "1km",
}

const supportedLevels = "supported levels are 1-6 (Lv1-Lv6)"

// ParseLevel accepts a numeric ("3") or symbolic ("Lv3", case-insensitive) level token.
func ParseLevel(token string) (Level, error) {
	s := strings.TrimSpace(token)
	if s == "" {
		return 0, fmt.Errorf("invalid mesh level %q: empty", token)
	}
	if size, ok := extendedLevels[strings.ToUpper(s)]; ok {
		return 0, fmt.Errorf("mesh level %q (%s) is an extended level and is not supported; %s", token, size, supportedLevels)
	}

	digits := s
	if len(s) > 2 && strings.EqualFold(s[:2], "lv") {
		digits = s[2:]
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("invalid mesh level %q: %s", token, supportedLevels)
	}
	l := Level(n)
	if !l.Valid() {
		return 0, fmt.Errorf("invalid mesh level %q: %s", token, supportedLevels)
	}
	return l, nil
}

// LevelOf returns the level implied by the number of digits in code.
func LevelOf(code uint64) (Level, error) {
	n := len(strconv.FormatUint(code, 10))
	for l, d := range codeDigits {
		if d == n {
			return l, nil
		}
	}
	return 0, fmt.Errorf("mesh code %d: %d digits does not match any level", code, n)
}
