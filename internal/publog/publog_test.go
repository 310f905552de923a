package publog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

type countingPub struct {
	naf, nafr int
}

func (p *countingPub) PublishNAF(payload any) error  { p.naf++; return nil }
func (p *countingPub) PublishNAFR(payload any) error { p.nafr++; return nil }

func TestRecorder_ForwardsAndCaptures(t *testing.T) {
	dir := t.TempDir()
	next := &countingPub{}
	r := NewRecorder(next, dir)

	if err := r.PublishNAF(map[string]string{"dataType": "u"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := r.PublishNAFR(map[string]string{"dataType": "u"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if next.naf != 1 || next.nafr != 1 {
		t.Fatalf("forwarding: %+v", next)
	}

	ents, err := os.ReadDir(dir)
	if err != nil || len(ents) != 1 {
		t.Fatalf("capture files: %v err=%v", ents, err)
	}
	name := ents[0].Name()
	if !strings.HasPrefix(name, "naf-") || !strings.HasSuffix(name, ".jsonl.zst") {
		t.Fatalf("capture name: %s", name)
	}

	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var v map[string]any
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("line: %v", err)
		}
		lines = append(lines, v)
	}
	if len(lines) != 2 {
		t.Fatalf("captured lines: %d", len(lines))
	}
	if lines[0]["event"] != "naf" || lines[1]["event"] != "nafr" {
		t.Fatalf("events: %v %v", lines[0]["event"], lines[1]["event"])
	}
}
