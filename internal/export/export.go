// Package export renders a conversation as a plain-text transcript and hands
// it to a file or the clipboard.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/aymanbagabas/go-osc52/v2"

	"github.com/xiaot623/csassistant/internal/domain"
)

const timeLayout = "15:04:05"

var clipboardWriteAll = clipboard.WriteAll

// Transcript renders one "[hh:mm:ss] ROLE: text" block per message, separated
// by blank lines.
func Transcript(messages []domain.Message) string {
	blocks := make([]string, len(messages))
	for i, m := range messages {
		blocks[i] = fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Format(timeLayout), strings.ToUpper(string(m.Role)), m.Text)
	}
	return strings.Join(blocks, "\n\n")
}

// FileName returns the download name for a transcript taken at now.
func FileName(now time.Time) string {
	return fmt.Sprintf("cs-chat-%d.txt", now.UnixMilli())
}

// WriteFile writes the transcript into dir and returns its path.
func WriteFile(dir string, messages []domain.Message, now time.Time) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	path := filepath.Join(dir, FileName(now))
	if err := os.WriteFile(path, []byte(Transcript(messages)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	return path, nil
}

// Method reports how text reached the clipboard.
type Method string

const (
	MethodClipboard Method = "clipboard"
	MethodOSC52     Method = "osc52"
)

// Copy places text on the system clipboard. When no clipboard is available
// and fallback is non-nil, an OSC 52 sequence is written to fallback so the
// terminal can set its clipboard instead.
func Copy(text string, fallback io.Writer) (Method, error) {
	err := clipboardWriteAll(text)
	if err == nil {
		return MethodClipboard, nil
	}
	if fallback == nil {
		return "", fmt.Errorf("failed to copy to clipboard: %w", err)
	}
	if _, oscErr := osc52.New(text).WriteTo(fallback); oscErr != nil {
		return "", fmt.Errorf("failed to copy to clipboard: %w (osc52: %v)", err, oscErr)
	}
	return MethodOSC52, nil
}
