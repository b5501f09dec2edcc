package plog

import (
	"errors"
	"strings"
	"testing"
)

func TestFormat_RendersKeyValuePairs(t *testing.T) {
	got := format("INFO", "drop", []any{"peer", 7, "reason", errors.New("boom")})
	if !strings.Contains(got, "peer=7") || !strings.Contains(got, "reason=boom") {
		t.Fatalf("expected key=value fields in output, got %q", got)
	}
	if !strings.HasPrefix(got, "INFO drop") {
		t.Fatalf("expected level+msg prefix, got %q", got)
	}
}

func TestFormat_OddFieldCountIgnoresTrailingKey(t *testing.T) {
	got := format("WARN", "msg", []any{"dangling"})
	if strings.Contains(got, "dangling") {
		t.Fatalf("expected unmatched trailing key to be dropped, got %q", got)
	}
}
