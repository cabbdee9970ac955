package mesh

import (
	"fmt"
	"strconv"
)

// JIS implements Grid for the JIS X 0410 standard regional mesh (levels 1-6).
//
// Code layout (decimal digits):
//
//	Lv1  PPUU            lat = PP/1.5, lon = UU+100, cell 40' x 1°
//	Lv2  PPUUqv          q, v in 0..7, cell 5' x 7'30"
//	Lv3  PPUUqvrw        r, w in 0..9, cell 30" x 45"
//	Lv4+ ...m            m in 1..4 (SW, SE, NW, NE), each level halves the parent cell
type JIS struct{}

// Standard is the grid used by the binary.
var Standard Grid = JIS{}

type cell struct {
	level  Level
	south  float64
	west   float64
	height float64
	width  float64
}

func decode(code uint64) (cell, error) {
	level, err := LevelOf(code)
	if err != nil {
		return cell{}, err
	}
	s := strconv.FormatUint(code, 10)
	digit := func(i int) int { return int(s[i] - '0') }

	p := digit(0)*10 + digit(1)
	u := digit(2)*10 + digit(3)
	if u >= 80 {
		return cell{}, fmt.Errorf("mesh code %d: longitude part %d out of range", code, u)
	}

	c := cell{
		level:  level,
		south:  float64(p) / 1.5,
		west:   float64(u) + 100,
		height: 2.0 / 3.0,
		width:  1,
	}

	if level >= Lv2 {
		q, v := digit(4), digit(5)
		if q > 7 || v > 7 {
			return cell{}, fmt.Errorf("mesh code %d: second level digits must be 0-7", code)
		}
		c.height /= 8
		c.width /= 8
		c.south += float64(q) * c.height
		c.west += float64(v) * c.width
	}

	if level >= Lv3 {
		r, w := digit(6), digit(7)
		c.height /= 10
		c.width /= 10
		c.south += float64(r) * c.height
		c.west += float64(w) * c.width
	}

	for l := Lv4; l <= level; l++ {
		m := digit(codeDigits[l] - 1)
		if m < 1 || m > 4 {
			return cell{}, fmt.Errorf("mesh code %d: %s quadrant digit must be 1-4", code, l)
		}
		c.height /= 2
		c.width /= 2
		c.south += float64((m-1)/2) * c.height
		c.west += float64((m-1)%2) * c.width
	}

	return c, nil
}

// Validate decodes code and returns its level. It rejects codes whose width matches no
// level as well as codes with out-of-range digits, e.g. 5399 or 533988.
func Validate(code uint64) (Level, error) {
	c, err := decode(code)
	if err != nil {
		return 0, err
	}
	return c.level, nil
}

// Expand implements Grid.
func (JIS) Expand(root uint64, level Level) ([]uint64, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("expand %d: unsupported level %d", root, int(level))
	}
	c, err := decode(root)
	if err != nil {
		return nil, err
	}

	if level <= c.level {
		shift := codeDigits[c.level] - codeDigits[level]
		code := root
		for i := 0; i < shift; i++ {
			code /= 10
		}
		return []uint64{code}, nil
	}

	codes := []uint64{root}
	for l := c.level; l < level; l++ {
		next := make([]uint64, 0, len(codes)*fanout(l))
		for _, code := range codes {
			next = appendChildren(next, code, l)
		}
		codes = next
	}
	return codes, nil
}

// Points implements Grid.
func (JIS) Points(codes []uint64, latMultiplier, lonMultiplier float64) ([]Point, error) {
	out := make([]Point, len(codes))
	for i, code := range codes {
		c, err := decode(code)
		if err != nil {
			return nil, err
		}
		out[i] = Point{
			Lat: c.south + latMultiplier*c.height,
			Lon: c.west + lonMultiplier*c.width,
		}
	}
	return out, nil
}

func fanout(parent Level) int {
	switch parent {
	case Lv1:
		return 64
	case Lv2:
		return 100
	default:
		return 4
	}
}

// appendChildren appends the children of code (at level parent) in ascending order.
func appendChildren(dst []uint64, code uint64, parent Level) []uint64 {
	switch parent {
	case Lv1:
		for q := uint64(0); q < 8; q++ {
			for v := uint64(0); v < 8; v++ {
				dst = append(dst, code*100+q*10+v)
			}
		}
	case Lv2:
		for r := uint64(0); r < 10; r++ {
			for w := uint64(0); w < 10; w++ {
				dst = append(dst, code*100+r*10+w)
			}
		}
	default:
		for m := uint64(1); m <= 4; m++ {
			dst = append(dst, code*10+m)
		}
	}
	return dst
}
