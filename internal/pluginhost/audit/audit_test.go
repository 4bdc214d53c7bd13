package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendCreatesFileAndWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugin-audit.log")
	l := New(path)

	if err := l.Append("acme.x", "network:get_json", map[string]any{"url": "https://example.com"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append("acme.x", "audit:log", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []Entry
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d", len(lines))
	}
	if lines[0].PluginID != "acme.x" || lines[0].Operation != "network:get_json" {
		t.Fatalf("unexpected first entry: %+v", lines[0])
	}
	if lines[0].Timestamp == "" {
		t.Fatal("expected a non-empty RFC3339 timestamp")
	}
}

func TestAppendIsAdditive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugin-audit.log")
	l := New(path)
	for i := 0; i < 5; i++ {
		if err := l.Append("acme.x", "document:get", nil); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	count := 0
	for _, b := range data {
		if b == '\n' {
			count++
		}
	}
	if count != 5 {
		t.Fatalf("expected 5 appended lines, got %d", count)
	}
}
