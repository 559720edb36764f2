package dabstract

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestSampleReplicate(t *testing.T) {
	ctx := context.Background()
	src := NewMemory("src", 1, 2, 3)

	t.Run("Uniform Factor", func(t *testing.T) {
		r, err := NewSampleReplicate("x2", Indexable[int](src), 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, _ := getAll[int](ctx, r)
		if !slices.Equal(got, []int{1, 1, 2, 2, 3, 3}) {
			t.Errorf("expected [1 1 2 2 3 3], got %v", got)
		}
	})

	t.Run("Per Item Factors", func(t *testing.T) {
		r, err := NewSampleReplicateEach("each", Indexable[int](src), []int{0, 3, 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, _ := getAll[int](ctx, r)
		if !slices.Equal(got, []int{2, 2, 2, 3}) {
			t.Errorf("expected [2 2 2 3], got %v", got)
		}
		if v, _, _ := r.Get(ctx, -1); v != 3 {
			t.Errorf("expected 3 at -1, got %d", v)
		}
	})

	t.Run("Replicas Share Metadata", func(t *testing.T) {
		mem, _ := NewMemoryWithInfo("src", []int{7}, []Info{{"id": "a"}})
		r, _ := NewSampleReplicate("x3", Indexable[int](mem), 3)
		for k := 0; k < 3; k++ {
			if _, info, _ := r.Get(ctx, k); info["id"] != "a" {
				t.Errorf("replica %d: expected id a, got %v", k, info)
			}
		}
	})

	t.Run("Invalid Factors", func(t *testing.T) {
		if _, err := NewSampleReplicateEach("bad", Indexable[int](src), []int{1, 1}); !errors.Is(err, ErrIntegrity) {
			t.Errorf("expected ErrIntegrity, got %v", err)
		}
		if _, err := NewSampleReplicateEach("bad", Indexable[int](src), []int{1, -1, 1}); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
		if _, err := NewSampleReplicate("bad", Indexable[int](src), -2); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("Out Of Range", func(t *testing.T) {
		r, _ := NewSampleReplicate("x2", Indexable[int](src), 2)
		if _, _, err := r.Get(ctx, 6); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("expected ErrOutOfRange, got %v", err)
		}
	})

	t.Run("Lazy", func(t *testing.T) {
		child := newTestSource("child", 1, 2)
		r, _ := NewSampleReplicate("x4", Indexable[int](child), 4)
		if child.calls() != 0 {
			t.Fatal("expected no reads at construction")
		}
		_, _, _ = r.Get(ctx, 5)
		if child.calls() != 1 {
			t.Errorf("expected one read, got %d", child.calls())
		}
	})

	t.Run("Key And Clone", func(t *testing.T) {
		child := newTestSource("child", 1, 2)
		child.columns["label"] = NewMemory[any]("label", "a", "b")
		r, _ := NewSampleReplicate("x2", Indexable[int](child), 2)
		col, err := r.Key("label")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, _ := getAll(ctx, col)
		if !slices.Equal(got, []any{"a", "a", "b", "b"}) {
			t.Errorf("expected [a a b b], got %v", got)
		}
		_ = r.Clone()
		if child.clones() != 1 {
			t.Errorf("expected child cloned once, got %d", child.clones())
		}
	})
}
