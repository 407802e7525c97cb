package database

import (
	"path/filepath"
	"testing"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRecordAndRecent(t *testing.T) {
	h := openTestHistory(t)

	events := []struct{ channel, engine string }{
		{"Channel A", "hls"},
		{"Channel B", "direct"},
		{"Channel A", "external"},
	}
	for _, e := range events {
		if err := h.Record(e.channel, "http://example.com/s.m3u8", e.engine); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := h.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Channel != "Channel A" || entries[0].Engine != "external" {
		t.Errorf("newest entry = %+v, want the last recorded event", entries[0])
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	h := openTestHistory(t)
	for i := 0; i < 5; i++ {
		if err := h.Record("Channel", "http://example.com/s", "hls"); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := h.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries))
	}
}

func TestLastEngineFor(t *testing.T) {
	h := openTestHistory(t)

	if _, found, err := h.LastEngineFor("Never Played"); err != nil || found {
		t.Errorf("unplayed channel: found=%v err=%v, want false, nil", found, err)
	}

	h.Record("Channel A", "http://example.com/s", "hls")
	h.Record("Channel A", "http://example.com/s", "direct")

	engine, found, err := h.LastEngineFor("Channel A")
	if err != nil {
		t.Fatalf("LastEngineFor: %v", err)
	}
	if !found || engine != "direct" {
		t.Errorf("engine = %q found = %v, want direct, true", engine, found)
	}
}
