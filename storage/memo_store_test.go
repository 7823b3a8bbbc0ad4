package storage

import (
	"context"
	"testing"
	"time"

	"voiceMemo/core"
)

func newMemo(userID, summary string) *core.VoiceMemo {
	return &core.VoiceMemo{
		UserID:   userID,
		Summary:  summary,
		Category: core.CategoryOther,
	}
}

func TestMemoryMemoStoreCreateAndGet(t *testing.T) {
	store := NewMemoryMemoStore()
	ctx := context.Background()

	memo := newMemo("u1", "장보기 메모")
	id, err := store.Create(ctx, memo)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a generated id")
	}
	if memo.ID != id {
		t.Errorf("Expected caller's memo to carry the id, got %q", memo.ID)
	}
	if memo.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Summary != "장보기 메모" {
		t.Errorf("Unexpected summary %q", got.Summary)
	}
}

func TestMemoryMemoStoreQueryScopedAndOrdered(t *testing.T) {
	store := NewMemoryMemoStore()
	ctx := context.Background()

	for i, summary := range []string{"첫번째", "두번째", "세번째"} {
		if _, err := store.Create(ctx, newMemo("u1", summary)); err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := store.Create(ctx, newMemo("u2", "다른 사용자")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	memos, err := store.Query(ctx, MemoQuery{UserID: "u1"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(memos) != 3 {
		t.Fatalf("Expected 3 memos for u1, got %d", len(memos))
	}
	if memos[0].Summary != "세번째" {
		t.Errorf("Expected newest first, got %q", memos[0].Summary)
	}
	for _, m := range memos {
		if m.UserID != "u1" {
			t.Errorf("Query leaked memo for user %q", m.UserID)
		}
	}

	limited, err := store.Query(ctx, MemoQuery{UserID: "u1", Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected limit 2, got %d", len(limited))
	}
}

func TestMemoryMemoStoreDelete(t *testing.T) {
	store := NewMemoryMemoStore()
	ctx := context.Background()

	id, err := store.Create(ctx, newMemo("u1", "지울 메모"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, id); err == nil {
		t.Error("Expected Get to fail after delete")
	}
	if err := store.Delete(ctx, id); err == nil {
		t.Error("Expected second delete to fail")
	}
}

func TestMemoryMemoStoreSubscribe(t *testing.T) {
	store := NewMemoryMemoStore()
	ctx := context.Background()

	events, unsubscribe := store.Subscribe("u1")
	defer unsubscribe()

	id, err := store.Create(ctx, newMemo("u1", "새 메모"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != "created" {
			t.Errorf("Expected created event, got %q", ev.Type)
		}
		if ev.Memo == nil || ev.Memo.ID != id {
			t.Error("Expected the created memo on the event")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for created event")
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Type != "deleted" {
			t.Errorf("Expected deleted event, got %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for deleted event")
	}
}

func TestMemoryMemoStoreSubscribeScopedToUser(t *testing.T) {
	store := NewMemoryMemoStore()
	ctx := context.Background()

	events, unsubscribe := store.Subscribe("u1")
	defer unsubscribe()

	if _, err := store.Create(ctx, newMemo("u2", "다른 사용자 메모")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	select {
	case ev := <-events:
		t.Errorf("Expected no event for another user, got %q", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryMemoStoreUnsubscribeClosesChannel(t *testing.T) {
	store := NewMemoryMemoStore()

	events, unsubscribe := store.Subscribe("u1")
	unsubscribe()

	select {
	case _, open := <-events:
		if open {
			t.Error("Expected channel closed after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected closed channel read to return immediately")
	}

	// double unsubscribe must not panic
	unsubscribe()
}
