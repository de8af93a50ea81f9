package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestFileSinkWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "trail.jsonl")
	sink, err := NewFileSink(zap.NewNop(), path)
	if err != nil {
		t.Fatal(err)
	}

	entries := []Entry{
		{Kind: KindDecision, Symbol: "BTC-USD", Payload: map[string]string{"action": "ENTER_LONG"}},
		{Kind: KindRejection, Symbol: "ETH-USD", Payload: "safety_max_position"},
	}
	for _, e := range entries {
		if err := sink.Record(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line is not valid json: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("lines = %d, want 2", len(got))
	}
	if got[0].Kind != KindDecision || got[1].Kind != KindRejection {
		t.Errorf("kinds = %s, %s", got[0].Kind, got[1].Kind)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp must be stamped on write")
	}
}

func TestFileSinkAppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.jsonl")

	for i := 0; i < 2; i++ {
		sink, err := NewFileSink(zap.NewNop(), path)
		if err != nil {
			t.Fatal(err)
		}
		if err := sink.Record(Entry{Kind: KindExit}); err != nil {
			t.Fatal(err)
		}
		sink.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("lines = %d, reopening must append not truncate", lines)
	}
}
