package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text split: %q", got)
	}

	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10)
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("newline split: %q", got)
	}

	got = splitText(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len(got[2]) != 5 {
		t.Fatalf("hard split: %q", got)
	}
}

func TestSendText(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		paths []string
		texts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(b, &body)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		if s, ok := body["text"].(string); ok {
			texts = append(texts, s)
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
	}))
	defer srv.Close()

	c, err := New("123:abc", Options{URL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.SendText(context.Background(), 42, 0, "update fired"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 1 || paths[0] != "/bot123:abc/sendMessage" {
		t.Fatalf("paths = %q", paths)
	}
	if len(texts) != 1 || texts[0] != "update fired" {
		t.Fatalf("texts = %q", texts)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New("  ", Options{}); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestSendTextRequiresChat(t *testing.T) {
	t.Parallel()
	c, err := New("123:abc", Options{URL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.SendText(context.Background(), 0, 0, "x"); err == nil {
		t.Fatal("expected error for zero chat id")
	}
}
