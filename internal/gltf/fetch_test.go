package gltf

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

func buildGLB(t *testing.T, jsonChunk []byte) []byte {
	t.Helper()
	// Pad to 4-byte alignment with spaces, as exporters do.
	for len(jsonChunk)%4 != 0 {
		jsonChunk = append(jsonChunk, ' ')
	}
	var buf bytes.Buffer
	buf.WriteString("glTF")
	total := 12 + 8 + len(jsonChunk)
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(hdr[0:4], 2)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(total))
	buf.Write(hdr)
	chunkHdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(chunkHdr[0:4], uint32(len(jsonChunk)))
	binary.LittleEndian.PutUint32(chunkHdr[4:8], 0x4E4F534A)
	buf.Write(chunkHdr)
	buf.Write(jsonChunk)
	return buf.Bytes()
}

// rangeServer serves body honoring Range requests and counts them.
type rangeServer struct {
	body       []byte
	honorRange bool
	rangeCalls int
	totalCalls int
}

func (s *rangeServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.totalCalls++
		rng := r.Header.Get("Range")
		if rng == "" || !s.honorRange {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(s.body)
			return
		}
		s.rangeCalls++
		// bytes=0-N
		end := len(s.body) - 1
		rest := strings.TrimPrefix(rng, "bytes=0-")
		if n, err := strconv.Atoi(rest); err == nil && n < end {
			end = n
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", end, len(s.body)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(s.body[:end+1])
	}
}

func sceneJSON(extraPad int) []byte {
	doc := map[string]any{
		"scene":  0,
		"scenes": []map[string]any{{"nodes": []int{0}}},
		"nodes":  []map[string]any{{"name": "root", "_pad": strings.Repeat("x", extraPad)}},
	}
	b, _ := json.Marshal(doc)
	return b
}

func TestFetchJSON_SmallGLBSingleRangedRequest(t *testing.T) {
	js := sceneJSON(0)
	srv := &rangeServer{body: buildGLB(t, js), honorRange: true}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	got, err := FetchJSON(context.Background(), ts.Client(), ts.URL)
	if err != nil {
		t.Fatalf("FetchJSON: %v", err)
	}
	var v any
	if err := json.Unmarshal(got, &v); err != nil {
		t.Fatalf("chunk not valid json: %v", err)
	}
	if srv.totalCalls != 1 {
		t.Fatalf("expected a single request, got %d", srv.totalCalls)
	}
}

func TestFetchJSON_LargeChunkSecondRangedFetch(t *testing.T) {
	// ~300 KiB JSON chunk: first 256 KiB window is short, second exact
	// ranged request must cover the remainder.
	js := sceneJSON(300 * 1024)
	srv := &rangeServer{body: buildGLB(t, js), honorRange: true}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	got, err := FetchJSON(context.Background(), ts.Client(), ts.URL)
	if err != nil {
		t.Fatalf("FetchJSON: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(got, &v); err != nil {
		t.Fatalf("chunk not valid json: %v", err)
	}
	if srv.rangeCalls != 2 {
		t.Fatalf("expected two ranged requests, got %d", srv.rangeCalls)
	}
}

func TestFetchJSON_ServerIgnoresRange(t *testing.T) {
	js := sceneJSON(300 * 1024)
	srv := &rangeServer{body: buildGLB(t, js), honorRange: false}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	if _, err := FetchJSON(context.Background(), ts.Client(), ts.URL); err != nil {
		t.Fatalf("FetchJSON: %v", err)
	}
	if srv.totalCalls != 1 {
		t.Fatalf("200 response should be used as the full body without refetch, got %d calls", srv.totalCalls)
	}
}

func TestFetchJSON_TextGLTF(t *testing.T) {
	js := sceneJSON(0)
	srv := &rangeServer{body: js, honorRange: true}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	got, err := FetchJSON(context.Background(), ts.Client(), ts.URL)
	if err != nil {
		t.Fatalf("FetchJSON: %v", err)
	}
	if !json.Valid(got) {
		t.Fatalf("text body should round-trip")
	}
}

func TestFetchJSON_BadChunkType(t *testing.T) {
	body := buildGLB(t, sceneJSON(0))
	// Corrupt the chunk type word.
	binary.LittleEndian.PutUint32(body[16:20], 0x004E4942) // "BIN\0"
	srv := &rangeServer{body: body, honorRange: true}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	_, err := FetchJSON(context.Background(), ts.Client(), ts.URL)
	if err != ErrMissingJSONChunk {
		t.Fatalf("want ErrMissingJSONChunk, got %v", err)
	}
}

func TestFetchJSON_TruncatedHeader(t *testing.T) {
	srv := &rangeServer{body: []byte("glTF\x02\x00"), honorRange: true}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	_, err := FetchJSON(context.Background(), ts.Client(), ts.URL)
	if err != ErrTooSmall {
		t.Fatalf("want ErrTooSmall, got %v", err)
	}
}

func TestParse_EmptyScene(t *testing.T) {
	if _, err := Parse([]byte(`{"scenes":[],"nodes":[]}`)); err != ErrSceneEmpty {
		t.Fatalf("want ErrSceneEmpty, got %v", err)
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	if _, err := Parse([]byte(`{nope`)); err == nil {
		t.Fatalf("want error for invalid json")
	}
}
