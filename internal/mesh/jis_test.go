package mesh

import (
	"math"
	"testing"
)

const eps = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < eps }

func TestJISExpand_Counts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		root  uint64
		level Level
		want  int
	}{
		{5339, Lv1, 1},
		{5339, Lv2, 64},
		{5339, Lv3, 6400},
		{5339, Lv4, 25600},
		{533945, Lv3, 100},
		{53394529, Lv6, 64},
	}

	for _, tc := range tests {
		codes, err := JIS{}.Expand(tc.root, tc.level)
		if err != nil {
			t.Fatalf("Expand(%d,%v) err=%v", tc.root, tc.level, err)
		}
		if len(codes) != tc.want {
			t.Fatalf("Expand(%d,%v) len=%d, want %d", tc.root, tc.level, len(codes), tc.want)
		}
		for i := 1; i < len(codes); i++ {
			if codes[i] <= codes[i-1] {
				t.Fatalf("Expand(%d,%v) not ascending at %d", tc.root, tc.level, i)
			}
		}
		for _, c := range codes {
			if l, err := LevelOf(c); err != nil || l != tc.level {
				t.Fatalf("Expand(%d,%v) produced %d at level %v (err=%v)", tc.root, tc.level, c, l, err)
			}
		}
	}
}

func TestJISExpand_CoarserLevelReturnsAncestor(t *testing.T) {
	t.Parallel()

	got, err := JIS{}.Expand(53394529, Lv1)
	if err != nil {
		t.Fatalf("Expand err=%v", err)
	}
	if len(got) != 1 || got[0] != 5339 {
		t.Fatalf("Expand(53394529, Lv1)=%v, want [5339]", got)
	}
}

func TestJISExpand_InvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		root  uint64
		level Level
	}{
		{"bad_digit_count", 123, Lv2},
		{"longitude_out_of_range", 5399, Lv2},
		{"second_level_digit", 538945, Lv3},
		{"quadrant_digit", 533945295, Lv5},
		{"unsupported_level", 5339, Level(7)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := (JIS{}).Expand(tc.root, tc.level); err == nil {
				t.Fatalf("Expand(%d,%v) err=nil, want error", tc.root, tc.level)
			}
		})
	}
}

func TestJISPoints_Corners(t *testing.T) {
	t.Parallel()

	codes := []uint64{5339, 533945, 53394529, 533945294}
	sw, err := JIS{}.Points(codes, 0, 0)
	if err != nil {
		t.Fatalf("Points sw err=%v", err)
	}
	ne, err := JIS{}.Points(codes, 1, 1)
	if err != nil {
		t.Fatalf("Points ne err=%v", err)
	}

	want := []struct{ s, w, n, e float64 }{
		{53.0 / 1.5, 139, 36, 140},
		{53.0/1.5 + 4.0/12, 139.625, 53.0/1.5 + 5.0/12, 139.75},
		{53.0/1.5 + 4.0/12 + 2.0/120, 139.7375, 53.0/1.5 + 4.0/12 + 3.0/120, 139.75},
		{53.0/1.5 + 4.0/12 + 2.0/120 + 1.0/240, 139.7375 + 1.0/160, 53.0/1.5 + 4.0/12 + 3.0/120, 139.75},
	}

	for i, w := range want {
		if !near(sw[i].Lat, w.s) || !near(sw[i].Lon, w.w) {
			t.Fatalf("code %d sw=%+v, want lat=%v lon=%v", codes[i], sw[i], w.s, w.w)
		}
		if !near(ne[i].Lat, w.n) || !near(ne[i].Lon, w.e) {
			t.Fatalf("code %d ne=%+v, want lat=%v lon=%v", codes[i], ne[i], w.n, w.e)
		}
	}
}

func TestJapanLv1_AllDecode(t *testing.T) {
	t.Parallel()

	if len(JapanLv1) < 150 {
		t.Fatalf("JapanLv1 has %d codes, want the full territory list", len(JapanLv1))
	}
	seen := map[uint64]bool{}
	for _, c := range JapanLv1 {
		if seen[c] {
			t.Fatalf("duplicate root %d", c)
		}
		seen[c] = true
		if _, err := decode(c); err != nil {
			t.Fatalf("decode(%d) err=%v", c, err)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code    uint64
		want    Level
		wantErr bool
	}{
		{code: 5339, want: Lv1},
		{code: 533945, want: Lv2},
		{code: 53394529, want: Lv3},
		{code: 533945291, want: Lv4},
		{code: 5399, wantErr: true},      // longitude part 99
		{code: 533988, wantErr: true},    // second level digit 8
		{code: 533945295, wantErr: true}, // quadrant 5
		{code: 123, wantErr: true},
	}
	for _, tc := range tests {
		got, err := Validate(tc.code)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("Validate(%d) err=nil, want error", tc.code)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("Validate(%d)=%v,%v want %v", tc.code, got, err, tc.want)
		}
	}
}
