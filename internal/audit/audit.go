// Package audit writes the tamper-evident trail of policy-governed tool
// calls: an append-only JSONL file where every entry is hash-chained to
// its predecessor and fsynced before the call proceeds.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Genesis is the previous_hash of the first entry in a fresh file.
const Genesis = "0000000000000000000000000000000000000000000000000000000000000000"

// Decision is the recorded outcome of a governed call.
type Decision string

const (
	DecisionAllow       Decision = "allow"
	DecisionDeny        Decision = "deny"
	DecisionAskApproved Decision = "ask_approved"
	DecisionAskRejected Decision = "ask_rejected"
)

// Entry is one audit record. EntryHash covers the canonical JSON of the
// entry without its hash field, prefixed by PreviousHash.
type Entry struct {
	SessionID    string    `json:"session_id,omitempty"`
	Handle       string    `json:"handle"`
	Command      string    `json:"command"`
	Arguments    string    `json:"arguments,omitempty"`
	Decision     Decision  `json:"decision"`
	ExitCode     *int      `json:"exit_code,omitempty"`
	StdoutPrev   string    `json:"stdout_preview,omitempty"`
	StderrPrev   string    `json:"stderr_preview,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	PreviousHash string    `json:"previous_hash"`
	EntryHash    string    `json:"entry_hash,omitempty"`
}

// Logger appends hash-chained entries to one file. Safe for concurrent
// use; the chain order is the lock order.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	lastHash string
}

// Open creates or continues an audit file. An existing chain is walked to
// recover the last hash; a trailing truncated line is ignored.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	last, err := lastHashOf(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Logger{file: f, lastHash: last}, nil
}

// Append chains, writes and fsyncs one entry. The entry's hash fields are
// filled in here; callers never set them.
func (l *Logger) Append(e *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.PreviousHash = l.lastHash
	hash, err := hashEntry(e)
	if err != nil {
		return err
	}
	e.EntryHash = hash

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit file: %w", err)
	}
	l.lastHash = hash
	return nil
}

// Close releases the file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Verify walks a chain from the start and returns the entry count, or an
// error naming the first broken link.
func Verify(path string) (int, error) {
	entries, err := Load(path)
	if err != nil {
		return 0, err
	}
	prev := Genesis
	for i := range entries {
		e := entries[i]
		if e.PreviousHash != prev {
			return i, fmt.Errorf("entry %d: previous_hash mismatch", i)
		}
		want, err := hashEntry(&e)
		if err != nil {
			return i, err
		}
		if e.EntryHash != want {
			return i, fmt.Errorf("entry %d: entry_hash mismatch", i)
		}
		prev = e.EntryHash
	}
	return len(entries), nil
}

// Load reads every complete entry; a trailing truncated line is ignored.
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// Partial write at the tail; older corruption is caught by Verify.
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func lastHashOf(f *os.File) (string, error) {
	entries, err := loadOpen(f)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return Genesis, nil
	}
	return entries[len(entries)-1].EntryHash, nil
}

func loadOpen(f *os.File) ([]Entry, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// hashEntry computes SHA-256(previous_hash || canonical_json(entry sans
// entry_hash)). Canonical means sorted keys, compact separators.
func hashEntry(e *Entry) (string, error) {
	clone := *e
	clone.EntryHash = ""
	raw, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("failed to marshal for hashing: %w", err)
	}
	canonical, err := canonicalize(raw)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(e.PreviousHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalize rewrites a JSON object with sorted keys and no extra
// whitespace so the hash is stable across marshal orderings.
func canonicalize(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	var sb strings.Builder
	if err := writeCanonical(&sb, v); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

func writeCanonical(sb *strings.Builder, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			sb.Write(kb)
			sb.WriteByte(':')
			if err := writeCanonical(sb, t[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		sb.Write(b)
	}
	return nil
}
