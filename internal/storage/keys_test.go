package storage

import (
	"testing"
	"time"
)

func TestBuildExportKey(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 4, 5, 6, 0, time.FixedZone("x", -5*3600))
	key, err := BuildExportKey("alice", "3f2a", "result", ts, "ab12", "parquet")
	if err != nil {
		t.Fatalf("BuildExportKey() error = %v", err)
	}
	want := "exports/alice/3f2a/date=2026-02-19/result-090506-ab12.parquet"
	if key != want {
		t.Fatalf("BuildExportKey() = %q, want %q", key, want)
	}
}

func TestBuildExportKeyDefaultsAnonymousPrincipal(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 0, 0, 0, 0, time.UTC)
	key, err := BuildExportKey("", "s1", "schema", ts, "x", "md")
	if err != nil {
		t.Fatalf("BuildExportKey() error = %v", err)
	}
	want := "exports/anonymous/s1/date=2026-02-19/schema-000000-x.md"
	if key != want {
		t.Fatalf("BuildExportKey() = %q, want %q", key, want)
	}
}

func TestBuildExportKeyRejectsInvalidComponent(t *testing.T) {
	cases := [][]string{
		{"../oops", "s1", "result"},
		{"alice", "a/b", "result"},
		{"alice", "s1", ""},
	}
	for _, c := range cases {
		if _, err := BuildExportKey(c[0], c[1], c[2], time.Now(), "x", "md"); err == nil {
			t.Fatalf("BuildExportKey(%q) expected error", c)
		}
	}
}
