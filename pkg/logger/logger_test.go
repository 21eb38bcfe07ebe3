package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPrintfTagsComponent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l := New(base, "badger")
	l.Infof("opened %d tables\n", 3)
	l.Warningf("slow compaction")

	out := buf.String()
	if !strings.Contains(out, "component=badger") {
		t.Fatalf("expected component attribute, got %q", out)
	}
	if !strings.Contains(out, `msg="opened 3 tables"`) {
		t.Fatalf("expected trimmed message, got %q", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Fatalf("expected warn line, got %q", out)
	}
}
