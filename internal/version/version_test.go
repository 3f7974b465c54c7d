package version

import (
	"log/slog"
	"testing"
)

func TestString(t *testing.T) {
	origVersion, origCommit := Version, Commit
	defer func() { Version, Commit = origVersion, origCommit }()

	Version, Commit = "1.4.0", "abc1234"
	if got := String(); got != "1.4.0 (abc1234)" {
		t.Errorf("String() = %q", got)
	}

	attr := Attr()
	if attr.Key != "build" || attr.Value.Kind() != slog.KindGroup || len(attr.Value.Group()) != 2 {
		t.Errorf("Attr() = %v", attr)
	}
}
