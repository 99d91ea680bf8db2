package browser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
)

// SnapshotMeta is the metadata file accompanying a debug snapshot: the
// req_id, the failing stage, the capture time, and the error type and
// message. No stack trace is recorded.
type SnapshotMeta struct {
	ReqID     string    `json:"req_id"`
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	ErrType   string    `json:"error_type"`
	ErrMsg    string    `json:"error_message"`
}

// WriteSnapshot persists a DebugSnapshot under
// <rootDir>/<req_id>-<stage>-<unix-ts>/ (spec §7 directory layout),
// rendering elements.md to an index.html via goldmark the way the
// teacher's markdown_html.go renders chat text to HTML for Telegram —
// repointed here at the element-tree dump and snapshot metadata so an
// operator can open one file to review a failure.
func WriteSnapshot(rootDir string, meta SnapshotMeta, snap DebugSnapshot) (string, error) {
	dirName := fmt.Sprintf("%s-%s-%d", meta.ReqID, meta.Stage, meta.Timestamp.Unix())
	dir := filepath.Join(rootDir, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("browser: create snapshot dir: %w", err)
	}

	if len(snap.ScreenshotJPEG) > 0 {
		if err := os.WriteFile(filepath.Join(dir, "screenshot.jpg"), snap.ScreenshotJPEG, 0o644); err != nil {
			return "", fmt.Errorf("browser: write screenshot: %w", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "dom.html"), []byte(snap.DOMHTML), 0o644); err != nil {
		return "", fmt.Errorf("browser: write dom: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "elements.md"), []byte(snap.ElementTreeMD), 0o644); err != nil {
		return "", fmt.Errorf("browser: write elements: %w", err)
	}
	if err := writeJSONLLines(filepath.Join(dir, "console.jsonl"), snap.ConsoleLog); err != nil {
		return "", err
	}
	if err := writeJSONLLines(filepath.Join(dir, "network.jsonl"), snap.NetworkLog); err != nil {
		return "", err
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("browser: marshal meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), metaBytes, 0o644); err != nil {
		return "", fmt.Errorf("browser: write meta: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "locator_state.txt"), []byte(snap.LocatorState), 0o644); err != nil {
		return "", fmt.Errorf("browser: write locator state: %w", err)
	}

	if err := writeIndexHTML(dir, meta, snap); err != nil {
		return "", err
	}

	return dir, nil
}

func writeJSONLLines(path string, lines []string) error {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func writeIndexHTML(dir string, meta SnapshotMeta, snap DebugSnapshot) error {
	var md strings.Builder
	fmt.Fprintf(&md, "# Debug snapshot `%s`\n\n", meta.ReqID)
	fmt.Fprintf(&md, "- **stage**: %s\n", meta.Stage)
	fmt.Fprintf(&md, "- **time**: %s\n", meta.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&md, "- **error**: %s: %s\n\n", meta.ErrType, meta.ErrMsg)
	md.WriteString("## Element tree\n\n```\n")
	md.WriteString(snap.ElementTreeMD)
	md.WriteString("\n```\n")

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(md.String()), &html); err != nil {
		return fmt.Errorf("browser: render snapshot index: %w", err)
	}

	page := "<!doctype html><html><head><meta charset=\"utf-8\"><title>debug snapshot " +
		meta.ReqID + "</title></head><body>" + html.String() + "</body></html>"
	return os.WriteFile(filepath.Join(dir, "index.html"), []byte(page), 0o644)
}
