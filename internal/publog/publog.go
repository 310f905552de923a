// Package publog captures every outbound entity message as compressed JSONL
// for offline debugging of what a room's peers were shown. It sits between
// the simulator and the channel client and never affects publishing.
package publog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Publisher matches the simulator's outbound surface.
type Publisher interface {
	PublishNAF(payload any) error
	PublishNAFR(payload any) error
}

type entry struct {
	At      int64  `json:"at_ms"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Recorder tees entity messages into an hourly naf-<hour>.jsonl.zst file
// before forwarding them. The capture file is opened lazily on the first
// write of each hour; capture failures are ignored so publishing always
// proceeds.
type Recorder struct {
	next Publisher
	dir  string

	mu   sync.Mutex
	hour string
	file *os.File
	zw   *zstd.Encoder
}

func NewRecorder(next Publisher, dir string) *Recorder {
	return &Recorder{next: next, dir: dir}
}

func (r *Recorder) PublishNAF(payload any) error {
	r.capture("naf", payload)
	return r.next.PublishNAF(payload)
}

func (r *Recorder) PublishNAFR(payload any) error {
	r.capture("nafr", payload)
	return r.next.PublishNAFR(payload)
}

func (r *Recorder) capture(event string, payload any) {
	now := time.Now()
	line, err := json.Marshal(entry{At: now.UnixMilli(), Event: event, Payload: payload})
	if err != nil {
		return
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureOpenLocked(now.UTC()); err != nil {
		return
	}
	if _, err := r.zw.Write(line); err != nil {
		r.teardownLocked()
		return
	}
	// Flush per line so a killed runner leaves a readable capture.
	_ = r.zw.Flush()
}

// ensureOpenLocked rolls the capture over to the current hour's file,
// reopening the encoder only when the hour stamp changes.
func (r *Recorder) ensureOpenLocked(now time.Time) error {
	stamp := now.Format("2006-01-02-15")
	if r.zw != nil && stamp == r.hour {
		return nil
	}
	r.teardownLocked()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(r.dir, "naf-"+stamp+".jsonl.zst"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	r.file = f
	r.zw = zw
	r.hour = stamp
	return nil
}

func (r *Recorder) teardownLocked() {
	if r.zw != nil {
		_ = r.zw.Close()
		r.zw = nil
	}
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	r.hour = ""
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownLocked()
	return nil
}
