package history

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func appendRun(t *testing.T, s *Store, session, question, answer string) {
	t.Helper()
	ctx := context.Background()
	if err := s.Append(ctx, Message{SessionID: session, Role: RoleUser, Content: question}); err != nil {
		t.Fatalf("Append user: %v", err)
	}
	if answer == "" {
		return
	}
	if err := s.Append(ctx, Message{SessionID: session, Role: RoleAssistant, Content: answer, Model: "qwen3:4b", OutputTokens: 12}); err != nil {
		t.Fatalf("Append assistant: %v", err)
	}
}

func TestRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	for i, q := range []string{"one", "two", "three"} {
		appendRun(t, s, "sess-1", q, strings.Repeat("a", i+1))
	}
	appendRun(t, s, "sess-2", "other", "reply")

	tests := []struct {
		runs int
		want []string
	}{
		{runs: 0, want: nil},
		{runs: 1, want: []string{"three", "aaa"}},
		{runs: 2, want: []string{"two", "aa", "three", "aaa"}},
		{runs: 10, want: []string{"one", "a", "two", "aa", "three", "aaa"}},
	}
	for _, tt := range tests {
		msgs, err := s.Recent(ctx, "sess-1", tt.runs)
		if err != nil {
			t.Fatalf("Recent(%d): %v", tt.runs, err)
		}
		var got []string
		for _, m := range msgs {
			got = append(got, m.Content)
		}
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("Recent(%d) = %v, want %v", tt.runs, got, tt.want)
		}
	}
}

func TestRecent_UnknownSession(t *testing.T) {
	s := testStore(t)
	msgs, err := s.Recent(context.Background(), "missing", 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages, want 0", len(msgs))
	}
}

func TestRecent_UnansweredTurn(t *testing.T) {
	s := testStore(t)
	appendRun(t, s, "s", "first", "answer")
	appendRun(t, s, "s", "pending", "")

	msgs, err := s.Recent(context.Background(), "s", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "pending" || msgs[0].Role != RoleUser {
		t.Errorf("msgs = %+v", msgs)
	}
}

func TestMessages(t *testing.T) {
	s := testStore(t)
	appendRun(t, s, "s", "hello", "hi there")

	msgs, err := s.Messages(context.Background(), "s")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].Model != "qwen3:4b" || msgs[1].OutputTokens != 12 {
		t.Errorf("assistant message = %+v", msgs[1])
	}
	if msgs[0].Model != "" {
		t.Errorf("user model = %q, want empty", msgs[0].Model)
	}
	if msgs[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	_, err = s.Messages(context.Background(), "nope")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Append(ctx, Message{SessionID: "old", Role: RoleUser, Content: "first   question\nwith newline", CreatedAt: base}); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, Message{SessionID: "new", Role: RoleUser, Content: strings.Repeat("x", 200), CreatedAt: base.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, Message{SessionID: "old", Role: RoleUser, Content: "second", CreatedAt: base.Add(2 * time.Hour)}); err != nil {
		t.Fatal(err)
	}

	list, err := s.Sessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d sessions, want 2", len(list))
	}
	if list[0].ID != "old" || list[0].Messages != 2 {
		t.Errorf("list[0] = %+v, want old with 2 messages", list[0])
	}
	if list[0].Title != "first question with newline" {
		t.Errorf("title = %q, want first user message", list[0].Title)
	}
	if !list[0].CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", list[0].CreatedAt, base)
	}
	if n := len([]rune(list[1].Title)); n != titleLen {
		t.Errorf("long title has %d runes, want %d", n, titleLen)
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	appendRun(t, s, "gone", "q", "a")

	if err := s.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	msgs, err := s.Recent(ctx, "gone", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages survived delete: %+v", msgs)
	}
	if err := s.Delete(ctx, "gone"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Delete: err = %v, want ErrSessionNotFound", err)
	}
}

func TestAppend_RequiresSession(t *testing.T) {
	s := testStore(t)
	if err := s.Append(context.Background(), Message{Role: RoleUser, Content: "x"}); err == nil {
		t.Error("expected error for empty session id")
	}
}
