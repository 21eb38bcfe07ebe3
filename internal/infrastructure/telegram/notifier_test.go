package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"FilingsMonitor/internal/domain"
)

func TestDispatchPostsMessage(t *testing.T) {
	t.Parallel()

	var gotPath, gotChat, gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotPath = r.URL.Path
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n := NewNotifier("TOKEN", "42", server.URL)
	err := n.Dispatch(context.Background(), domain.AlertPayload{
		EventID:        "ACME:1:8-K",
		IssuerID:       "ACME",
		FormType:       domain.Form8K,
		EventType:      domain.EventLegal,
		ImpactLevel:    domain.ImpactHigh,
		SummaryBullets: []string{"Settled"},
		Reasoning:      "material",
	})
	if err != nil {
		t.Fatalf("Dispatch error: %v", err)
	}

	if gotPath != "/botTOKEN/sendMessage" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotChat != "42" {
		t.Fatalf("unexpected chat id: %s", gotChat)
	}
	if !strings.HasPrefix(gotText, "[Market Alert] ACME") || !strings.Contains(gotText, "- Settled") {
		t.Fatalf("unexpected text: %q", gotText)
	}
}

func TestDispatchErrors(t *testing.T) {
	t.Parallel()

	if err := NewNotifier("", "", "").Dispatch(context.Background(), domain.AlertPayload{}); err == nil {
		t.Fatalf("expected misconfiguration error")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	if err := NewNotifier("T", "1", server.URL).Dispatch(context.Background(), domain.AlertPayload{}); err == nil {
		t.Fatalf("expected error on 403")
	}
}
