// Package fetch provides the web-fetching tool surface. Two backends
// share one tool: plain net/http for static pages and headless Chrome
// via chromedp when JavaScript rendering is needed. get_fetch_mode lets
// the model discover which one is active.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

const (
	// ModeHTTP fetches with a plain HTTP client.
	ModeHTTP = "http"
	// ModeBrowser renders pages in headless Chrome.
	ModeBrowser = "browser"
	// ModeUnavailable means no fetch backend is configured.
	ModeUnavailable = "unavailable"

	// maxBodyBytes caps how much of a response we read.
	maxBodyBytes = 512 * 1024
	// maxContentChars caps what flows back to the model.
	maxContentChars = 8000
)

// Backend retrieves one URL as text.
type Backend interface {
	Fetch(ctx context.Context, url string) (string, error)
	Mode() string
}

// FetchArgs are the fetch_url parameters.
type FetchArgs struct {
	URL string `json:"url" jsonschema:"description=The http(s) URL to fetch."`
}

// Tools builds the fetch tool surface for a backend. A nil backend still
// yields get_fetch_mode reporting unavailable, so the model can explain
// the limitation instead of failing silently.
func Tools(backend Backend, logger *slog.Logger) []tools.Tool {
	if logger == nil {
		logger = slog.Default()
	}
	f := &fetchTools{backend: backend, logger: logger.With("component", "fetch")}

	mode := ModeUnavailable
	if backend != nil {
		mode = backend.Mode()
	}
	out := []tools.Tool{
		tools.NewFunc("get_fetch_mode",
			"Report the active web-fetch backend: http, browser or unavailable.",
			json.RawMessage(`{"type":"object","properties":{}}`),
			func(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
				return &models.ToolResult{Content: mode}, nil
			}),
	}
	if backend != nil {
		out = append(out, tools.NewFunc("fetch_url",
			"Fetch a web page and return its readable text content.",
			tools.SchemaFor(&FetchArgs{}), f.fetchURL))
	}
	return out
}

type fetchTools struct {
	backend Backend
	logger  *slog.Logger
}

func (f *fetchTools) fetchURL(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args FetchArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return &models.ToolResult{IsError: true, Content: "invalid fetch_url arguments"}, nil
	}
	u, err := url.Parse(args.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return &models.ToolResult{IsError: true, Content: "url must start with http:// or https://"}, nil
	}
	if err := hostGuard(u.Hostname()); err != nil {
		return &models.ToolResult{IsError: true,
			Content: fmt.Sprintf("refusing to fetch %s: %v", args.URL, err)}, nil
	}
	start := time.Now()
	text, err := f.backend.Fetch(ctx, args.URL)
	if err != nil {
		return &models.ToolResult{IsError: true,
			Content: fmt.Sprintf("failed to fetch %s: %v", args.URL, err)}, nil
	}
	f.logger.Debug("fetched url",
		slog.String("url", args.URL),
		slog.Int("chars", len(text)),
		slog.Duration("duration", time.Since(start)))
	if len(text) > maxContentChars {
		text = text[:maxContentChars] + "\n… [truncated]"
	}
	return &models.ToolResult{Content: text}, nil
}

// HTTPBackend fetches with a plain client and strips markup.
type HTTPBackend struct {
	client *http.Client
}

// NewHTTPBackend builds the http backend with the given timeout.
func NewHTTPBackend(timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{client: &http.Client{Timeout: timeout}}
}

func (b *HTTPBackend) Mode() string { return ModeHTTP }

func (b *HTTPBackend) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "sidekick/1.0")
	req.Header.Set("Accept", "text/html,application/json,text/plain,*/*")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("server returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "text/html") {
		return ExtractText(string(body)), nil
	}
	return string(body), nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// ExtractText reduces HTML to readable text: scripts and styles dropped,
// tags stripped, entities decoded, whitespace collapsed.
func ExtractText(html string) string {
	text := scriptRe.ReplaceAllString(html, " ")
	text = tagRe.ReplaceAllString(text, "\n")
	for entity, repl := range map[string]string{
		"&nbsp;": " ", "&amp;": "&", "&lt;": "<", "&gt;": ">",
		"&quot;": `"`, "&#39;": "'",
	} {
		text = strings.ReplaceAll(text, entity, repl)
	}
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return blankRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}
