package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	v, c, d := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })
	Version, Commit, Date = "v1.2.0", "abc123", "2026-01-02"

	got := String()
	for _, part := range []string{"v1.2.0", "abc123", "2026-01-02"} {
		if !strings.Contains(got, part) {
			t.Errorf("String() = %q, missing %q", got, part)
		}
	}
}
