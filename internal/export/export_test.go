package export

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiaot623/csassistant/internal/domain"
)

func sampleMessages() []domain.Message {
	t0 := time.Date(2024, 5, 1, 9, 5, 3, 0, time.UTC)
	return []domain.Message{
		{ID: 1, Role: domain.RoleAssistant, Text: "Hello!", CreatedAt: t0},
		{ID: 2, Role: domain.RoleUser, Text: "What is TCP?", CreatedAt: t0.Add(2 * time.Second)},
	}
}

func TestTranscript(t *testing.T) {
	got := Transcript(sampleMessages())
	want := "[09:05:03] ASSISTANT: Hello!\n\n[09:05:05] USER: What is TCP?"
	if got != want {
		t.Fatalf("unexpected transcript:\n%q\nwant\n%q", got, want)
	}
	if Transcript(nil) != "" {
		t.Fatalf("empty conversation should render empty transcript")
	}
}

func TestFileName(t *testing.T) {
	now := time.UnixMilli(1714554303123)
	if got := FileName(now); got != "cs-chat-1714554303123.txt" {
		t.Fatalf("unexpected file name %q", got)
	}
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	now := time.UnixMilli(1000)

	path, err := WriteFile(dir, sampleMessages(), now)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "cs-chat-1000.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, Transcript(sampleMessages()), string(data))
}

func TestCopyUsesClipboard(t *testing.T) {
	var copied string
	clipboardWriteAll = func(s string) error { copied = s; return nil }
	t.Cleanup(func() { clipboardWriteAll = defaultClipboard })

	var buf bytes.Buffer
	method, err := Copy("transcript", &buf)
	require.NoError(t, err)
	require.Equal(t, MethodClipboard, method)
	require.Equal(t, "transcript", copied)
	require.Zero(t, buf.Len())
}

func TestCopyFallsBackToOSC52(t *testing.T) {
	clipboardWriteAll = func(string) error { return errors.New("no clipboard utilities") }
	t.Cleanup(func() { clipboardWriteAll = defaultClipboard })

	var buf bytes.Buffer
	method, err := Copy("transcript", &buf)
	require.NoError(t, err)
	require.Equal(t, MethodOSC52, method)
	require.True(t, strings.HasPrefix(buf.String(), "\x1b]52;c;"), "unexpected sequence %q", buf.String())
}

func TestCopyWithoutFallbackFails(t *testing.T) {
	clipboardWriteAll = func(string) error { return errors.New("no clipboard utilities") }
	t.Cleanup(func() { clipboardWriteAll = defaultClipboard })

	if _, err := Copy("transcript", nil); err == nil {
		t.Fatalf("expected error")
	}
}

var defaultClipboard = clipboardWriteAll
