package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hussain-mohammed/kirana-store/internal/domain"
	"github.com/hussain-mohammed/kirana-store/internal/lint"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := s.Save(ctx, domain.Bake{ID: id, Status: domain.BakeQueued, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}
	if err := s.Save(ctx, domain.Bake{ID: "b", Status: domain.BakeSucceeded, CreatedAt: base.Add(time.Minute)}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, err := s.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != domain.BakeSucceeded || !got.Terminal() {
		t.Fatalf("expected updated bake, got %+v", got)
	}
	list, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Fatalf("unexpected order %+v", list)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Save(ctx, domain.Bake{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestDecodeBake(t *testing.T) {
	payload := []byte(`{"id":"x","recipe":"slim-script","status":"failed","lint":{"findings":[{"rule":"layer-order","severity":"warning","message":"m"}]}}`)
	bake, err := decodeBake(payload)
	if err != nil {
		t.Fatalf("decodeBake error: %v", err)
	}
	if bake.Lint == nil || bake.Lint.Findings[0].Rule != lint.RuleLayerOrder {
		t.Fatalf("lint report not decoded: %+v", bake.Lint)
	}
	if _, err := decodeBake([]byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNewRedisUnreachable(t *testing.T) {
	if _, err := NewRedis("127.0.0.1:1", "", 0, time.Hour, nil); err == nil {
		t.Fatalf("expected connection error")
	}
}
