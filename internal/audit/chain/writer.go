// Package chain is an append-only JSONL audit log. Each record carries the
// hash of its predecessor so truncation or edits are detectable.
package chain

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Writer struct {
	mu   sync.Mutex
	f    *os.File
	prev []byte // previous hash
}

// NewWriter opens path for appending and continues the chain from its last record.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	prev, err := lastHash(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, prev: prev}, nil
}

func (w *Writer) Close() error { return w.f.Close() }

type Event struct {
	Time   time.Time         `json:"time"`
	Kind   string            `json:"kind"`
	Actor  string            `json:"actor"`
	Target string            `json:"target"`
	Meta   map[string]string `json:"meta"`
	Prev   string            `json:"prev"`
	Hash   string            `json:"hash"`
}

// digest is the hash over the event with Hash cleared, chained to prev.
func digest(prev []byte, ev Event) ([]byte, error) {
	ev.Hash = ""
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(append(append([]byte{}, prev...), b...))
	return h[:], nil
}

func (w *Writer) Log(kind, actor, target string, meta map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ev := Event{Time: time.Now().UTC(), Kind: kind, Actor: actor, Target: target, Meta: meta, Prev: hex.EncodeToString(w.prev)}
	h, err := digest(w.prev, ev)
	if err != nil {
		return err
	}
	ev.Hash = hex.EncodeToString(h)
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.f.Write(append(b, '\n')); err != nil {
		return err
	}
	copy(w.prev, h)
	return nil
}

func lastHash(path string) ([]byte, error) {
	prev := make([]byte, 32)
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return prev, nil
	}
	if err != nil {
		return nil, err
	}
	lines := bytes.Split(bytes.TrimSpace(b), []byte("\n"))
	if len(lines) == 0 || len(lines[len(lines)-1]) == 0 {
		return prev, nil
	}
	var ev Event
	if err := json.Unmarshal(lines[len(lines)-1], &ev); err != nil {
		return nil, fmt.Errorf("audit tail unreadable: %w", err)
	}
	h, err := hex.DecodeString(ev.Hash)
	if err != nil || len(h) != 32 {
		return nil, fmt.Errorf("audit tail has bad hash %q", ev.Hash)
	}
	return h, nil
}

// Verify walks the log at path and returns the number of records, or an
// error naming the first line that breaks the chain.
func Verify(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	prev := make([]byte, 32)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		n++
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return n, fmt.Errorf("line %d: %w", n, err)
		}
		if ev.Prev != hex.EncodeToString(prev) {
			return n, fmt.Errorf("line %d: prev hash mismatch", n)
		}
		h, err := digest(prev, ev)
		if err != nil {
			return n, err
		}
		if ev.Hash != hex.EncodeToString(h) {
			return n, fmt.Errorf("line %d: hash mismatch", n)
		}
		prev = h
	}
	return n, sc.Err()
}
