package screen

import "testing"

func TestLevelClamps(t *testing.T) {
	cases := []struct {
		count int32
		want  int
	}{
		{-5, 0},
		{0, 0},
		{42, 42},
		{100, 100},
		{250, 100},
	}
	for _, c := range cases {
		if got := Level(c.count); got != c.want {
			t.Errorf("Level(%d) = %d, want %d", c.count, got, c.want)
		}
	}
}
