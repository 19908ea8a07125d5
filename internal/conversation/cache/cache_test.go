package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"outreach_backend/internal/ai"
)

func newTestWindow(t *testing.T, size int) *Window {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, size)
}

func TestWindowAppendAndRecent(t *testing.T) {
	w := newTestWindow(t, 10)
	ctx := context.Background()

	msgs := []ai.ChatMessage{
		{Role: ai.RoleUser, Content: "hola"},
		{Role: ai.RoleAssistant, Content: "¡Hola! ¿Cuál es tu nombre?"},
		{Role: ai.RoleUser, Content: "Juan"},
	}
	for _, m := range msgs {
		if err := w.Append(ctx, "5215511112222", "whatsapp", m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := w.Recent(ctx, "5215511112222", "whatsapp")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("window length = %d, want 3", len(got))
	}
	for i := range msgs {
		if got[i] != msgs[i] {
			t.Errorf("turn %d = %+v, want %+v", i, got[i], msgs[i])
		}
	}
}

func TestWindowTruncates(t *testing.T) {
	w := newTestWindow(t, 3)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		msg := ai.ChatMessage{Role: ai.RoleUser, Content: fmt.Sprintf("mensaje %d", i)}
		if err := w.Append(ctx, "c1", "whatsapp", msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := w.Recent(ctx, "c1", "whatsapp")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("window length = %d, want 3", len(got))
	}
	if got[0].Content != "mensaje 3" || got[2].Content != "mensaje 5" {
		t.Fatalf("window kept wrong entries: %+v", got)
	}
}

func TestWindowIsolatedPerSession(t *testing.T) {
	w := newTestWindow(t, 10)
	ctx := context.Background()

	if err := w.Append(ctx, "c1", "whatsapp", ai.ChatMessage{Role: ai.RoleUser, Content: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(ctx, "c2", "whatsapp", ai.ChatMessage{Role: ai.RoleUser, Content: "b"}); err != nil {
		t.Fatal(err)
	}

	got, err := w.Recent(ctx, "c1", "whatsapp")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "a" {
		t.Fatalf("c1 window = %+v", got)
	}
}

func TestWindowClear(t *testing.T) {
	w := newTestWindow(t, 10)
	ctx := context.Background()

	if err := w.Append(ctx, "c1", "whatsapp", ai.ChatMessage{Role: ai.RoleUser, Content: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := w.Clear(ctx, "c1", "whatsapp"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	got, err := w.Recent(ctx, "c1", "whatsapp")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("window not empty after clear: %+v", got)
	}
}
