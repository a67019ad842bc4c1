// Package selfcode lets workers read the workspace's own source tree:
// list files under a directory and read one file. Read-only; writes go
// through the shell tools where policy applies.
package selfcode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

const (
	// maxListEntries caps a single directory listing.
	maxListEntries = 200
	// maxFileChars caps what one read returns to the model.
	maxFileChars = 16000
)

// ListArgs are the list_source_files parameters.
type ListArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory relative to the workspace root; empty for the root itself."`
}

// ReadArgs are the read_source_file parameters.
type ReadArgs struct {
	Path string `json:"path" jsonschema:"description=File path relative to the workspace root."`
}

// Tools builds the source-reading surface rooted at root.
func Tools(root string, logger *slog.Logger) []tools.Tool {
	if logger == nil {
		logger = slog.Default()
	}
	s := &sourceTools{root: root, logger: logger.With("component", "selfcode")}
	return []tools.Tool{
		tools.NewFunc("list_source_files",
			"List files and directories under a workspace path.",
			tools.SchemaFor(&ListArgs{}), s.listSourceFiles),
		tools.NewFunc("read_source_file",
			"Read one file from the workspace.",
			tools.SchemaFor(&ReadArgs{}), s.readSourceFile),
	}
}

type sourceTools struct {
	root   string
	logger *slog.Logger
}

// resolve joins rel onto the root and rejects anything that escapes it.
func (s *sourceTools) resolve(rel string) (string, error) {
	abs := filepath.Join(s.root, filepath.Clean("/"+rel))
	inside, err := filepath.Rel(s.root, abs)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the workspace", rel)
	}
	return abs, nil
}

func (s *sourceTools) listSourceFiles(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args ListArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return &models.ToolResult{IsError: true, Content: "invalid list_source_files arguments"}, nil
	}
	dir, err := s.resolve(args.Path)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: fmt.Sprintf("cannot list %s: %v", args.Path, err)}, nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return &models.ToolResult{Content: "(empty directory)"}, nil
	}
	truncated := false
	if len(names) > maxListEntries {
		names = names[:maxListEntries]
		truncated = true
	}
	out := fmt.Sprintf("%d entries:\n%s", len(names), strings.Join(names, "\n"))
	if truncated {
		out += "\n… [truncated]"
	}
	return &models.ToolResult{Content: out}, nil
}

func (s *sourceTools) readSourceFile(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args ReadArgs
	if err := json.Unmarshal(input, &args); err != nil || strings.TrimSpace(args.Path) == "" {
		return &models.ToolResult{IsError: true, Content: "read_source_file requires a path"}, nil
	}
	path, err := s.resolve(args.Path)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: fmt.Sprintf("cannot read %s: %v", args.Path, err)}, nil
	}
	if info.IsDir() {
		return &models.ToolResult{IsError: true, Content: args.Path + " is a directory; use list_source_files"}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: fmt.Sprintf("cannot read %s: %v", args.Path, err)}, nil
	}
	content := string(data)
	if len(content) > maxFileChars {
		content = content[:maxFileChars] + "\n… [truncated]"
	}
	s.logger.Debug("read source file",
		slog.String("path", args.Path), slog.Int("bytes", len(data)))
	return &models.ToolResult{Content: content}, nil
}
