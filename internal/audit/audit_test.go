package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func tempLog(t *testing.T) (string, *Logger) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return path, l
}

func entry(cmd string, d Decision) *Entry {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &Entry{
		Handle:      "user1",
		Command:     cmd,
		Decision:    d,
		StartedAt:   now,
		CompletedAt: now,
	}
}

func TestChainLinksAndVerifies(t *testing.T) {
	path, l := tempLog(t)

	for _, cmd := range []string{"ls", "git status", "rm -rf /"} {
		d := DecisionAllow
		if cmd == "rm -rf /" {
			d = DecisionDeny
		}
		if err := l.Append(entry(cmd, d)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].PreviousHash != Genesis {
		t.Errorf("first previous_hash = %s, want genesis", entries[0].PreviousHash)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PreviousHash != entries[i-1].EntryHash {
			t.Errorf("entry %d not chained", i)
		}
	}
	if n, err := Verify(path); err != nil || n != 3 {
		t.Errorf("Verify = (%d, %v), want (3, nil)", n, err)
	}
}

func TestHashIsCanonicalSHA256(t *testing.T) {
	path, l := tempLog(t)
	if err := l.Append(entry("echo hi", DecisionAllow)); err != nil {
		t.Fatal(err)
	}
	entries, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	e := entries[0]
	clone := e
	clone.EntryHash = ""
	raw, _ := json.Marshal(&clone)
	canonical, err := canonicalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	h := sha256.New()
	h.Write([]byte(e.PreviousHash))
	h.Write(canonical)
	if want := hex.EncodeToString(h.Sum(nil)); e.EntryHash != want {
		t.Errorf("entry_hash = %s, want %s", e.EntryHash, want)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Append(entry("ls", DecisionAllow)); err != nil {
		t.Fatal(err)
	}
	l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Close()
	if err := l2.Append(entry("pwd", DecisionAllow)); err != nil {
		t.Fatal(err)
	}
	if n, err := Verify(path); err != nil || n != 2 {
		t.Errorf("Verify after reopen = (%d, %v), want (2, nil)", n, err)
	}
}

func TestTrailingTruncatedLineIgnored(t *testing.T) {
	path, l := tempLog(t)
	if err := l.Append(entry("ls", DecisionAllow)); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"handle":"user1","command":"trunc`)
	f.Close()

	if n, err := Verify(path); err != nil || n != 1 {
		t.Errorf("Verify with truncated tail = (%d, %v), want (1, nil)", n, err)
	}
}

func TestTamperingDetected(t *testing.T) {
	path, l := tempLog(t)
	l.Append(entry("ls", DecisionAllow))
	l.Append(entry("pwd", DecisionAllow))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"command":"ls"`, `"command":"sudo ls"`, 1)
	if tampered == string(data) {
		t.Fatal("setup: command field not found")
	}
	if err := os.WriteFile(path, []byte(tampered), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Verify(path); err == nil {
		t.Error("tampered chain verified clean")
	}
}
