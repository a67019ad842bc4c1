package selfcode

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/sidekick/internal/tools"
)

func newSurface(t *testing.T) (map[string]tools.Tool, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "app"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"app/main.go":  "package main\n",
		"app/util.go":  "package main\n\nfunc helper() {}\n",
		"app/.hidden":  "secret\n",
		"notes.txt":    "top-level\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	out := make(map[string]tools.Tool)
	for _, tool := range Tools(root, nil) {
		out[tool.Name()] = tool
	}
	return out, root
}

func TestListSourceFiles(t *testing.T) {
	surface, _ := newSurface(t)

	res, err := surface["list_source_files"].Execute(context.Background(),
		json.RawMessage(`{"path":"app"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, "2 entries") {
		t.Errorf("content = %q, want count of 2", res.Content)
	}
	if !strings.Contains(res.Content, "main.go") || !strings.Contains(res.Content, "util.go") {
		t.Errorf("content = %q", res.Content)
	}
	if strings.Contains(res.Content, ".hidden") {
		t.Errorf("hidden file listed: %q", res.Content)
	}
}

func TestListSourceFilesRoot(t *testing.T) {
	surface, _ := newSurface(t)

	res, err := surface["list_source_files"].Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Content, "app/") || !strings.Contains(res.Content, "notes.txt") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestReadSourceFile(t *testing.T) {
	surface, _ := newSurface(t)

	res, err := surface["read_source_file"].Execute(context.Background(),
		json.RawMessage(`{"path":"app/util.go"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("error result: %s", res.Content)
	}
	if !strings.Contains(res.Content, "func helper()") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestReadSourceFileDirectory(t *testing.T) {
	surface, _ := newSurface(t)

	res, err := surface["read_source_file"].Execute(context.Background(),
		json.RawMessage(`{"path":"app"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("reading a directory must be an error result")
	}
}

func TestPathEscapeRejected(t *testing.T) {
	surface, root := newSurface(t)
	outside := filepath.Join(filepath.Dir(root), "outside.txt")
	if err := os.WriteFile(outside, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	defer os.Remove(outside)

	for _, path := range []string{"../outside.txt", "app/../../outside.txt"} {
		raw, _ := json.Marshal(ReadArgs{Path: path})
		res, err := surface["read_source_file"].Execute(context.Background(), raw)
		if err != nil {
			t.Fatalf("Execute(%s): %v", path, err)
		}
		if !res.IsError || strings.Contains(res.Content, "nope") {
			t.Errorf("escape %q not rejected: %+v", path, res)
		}
	}
}
