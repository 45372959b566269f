package version

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	oldV, oldC, oldB := Version, Commit, BuildTime
	t.Cleanup(func() { Version, Commit, BuildTime = oldV, oldC, oldB })

	Version, Commit, BuildTime = "1.2.3", "abc1234", "2024-06-20T08:00:00Z"

	if got, want := String(), "1.2.3 (abc1234) built 2024-06-20T08:00:00Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := Get(); got.Version != "1.2.3" || got.Commit != "abc1234" {
		t.Errorf("Get() = %+v", got)
	}
}

func TestLogAttr(t *testing.T) {
	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("starting", LogAttr())

	if out := buf.String(); !strings.Contains(out, "build.version=dev") {
		t.Errorf("log output = %q", out)
	}
}
