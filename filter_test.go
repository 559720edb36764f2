package dabstract

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func isEven(_ context.Context, n int) bool { return n%2 == 0 }

func TestFilter(t *testing.T) {
	ctx := context.Background()
	src := NewMemory("src", 1, 2, 3, 4, 5, 6)

	t.Run("Reject Mode", func(t *testing.T) {
		f := NewFilter("even", Indexable[int](src), isEven)
		if f.Mode() != FilterReject || f.LenDefined() {
			t.Error("expected reject mode without a length")
		}
		if _, err := f.Len(); !errors.Is(err, ErrLengthUndefined) {
			t.Errorf("expected ErrLengthUndefined, got %v", err)
		}
		v, _, err := f.Get(ctx, 1)
		if err != nil || v != 2 {
			t.Errorf("expected 2, got %d (%v)", v, err)
		}
		_, _, err = f.Get(ctx, 0)
		if !errors.Is(err, ErrNotAvailable) || !errors.Is(err, ErrOutOfRange) {
			t.Errorf("expected ErrNotAvailable, got %v", err)
		}
		if v := f.Metrics().Counter(FilterRejectedTotal).Value(); v != 1 {
			t.Errorf("expected 1 rejection, got %v", v)
		}
	})

	t.Run("Placeholder Mode", func(t *testing.T) {
		f := NewPlaceholderFilter("even", Indexable[int](src), isEven)
		n, err := f.Len()
		if err != nil || n != 6 {
			t.Fatalf("expected child length 6, got %d (%v)", n, err)
		}
		v, info, err := f.Get(ctx, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v != 0 || info[InfoFiltered] != true {
			t.Errorf("expected zero placeholder with filtered info, got %d %v", v, info)
		}
		_, info, _ = f.Get(ctx, 3)
		if _, ok := info[InfoFiltered]; ok {
			t.Errorf("passing item must not be flagged, got %v", info)
		}
	})

	t.Run("Predicate Sees Every Read", func(t *testing.T) {
		calls := 0
		f := NewPlaceholderFilter("count", Indexable[int](src), func(context.Context, int) bool {
			calls++
			return true
		})
		_, _, _ = f.Get(ctx, 0)
		_, _, _ = f.Get(ctx, 0)
		if calls != 2 {
			t.Errorf("expected the predicate on every read, got %d calls", calls)
		}
	})

	t.Run("Negative And Out Of Range", func(t *testing.T) {
		f := NewFilter("even", Indexable[int](src), isEven)
		if v, _, err := f.Get(ctx, -1); err != nil || v != 6 {
			t.Errorf("expected 6, got %d (%v)", v, err)
		}
		_, _, err := f.Get(ctx, 6)
		if !errors.Is(err, ErrOutOfRange) || errors.Is(err, ErrNotAvailable) {
			t.Errorf("expected a plain ErrOutOfRange, got %v", err)
		}
	})

	t.Run("Stream Skips Rejected Items", func(t *testing.T) {
		f := NewFilter("even", Indexable[int](src), isEven)
		for range 2 {
			var got []int
			for v, err := range f.All(ctx) {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				got = append(got, v)
			}
			if !slices.Equal(got, []int{2, 4, 6}) {
				t.Errorf("expected [2 4 6], got %v", got)
			}
		}
	})

	t.Run("Predicate Panic", func(t *testing.T) {
		f := NewFilter("panic", Indexable[int](src), func(context.Context, int) bool { panic("bad") })
		_, _, err := f.Get(ctx, 0)
		var pe *panicError
		if !errors.As(err, &pe) {
			t.Errorf("expected panicError, got %v", err)
		}
	})

	t.Run("Key Gates The Column", func(t *testing.T) {
		child := newTestSource("child", 1, 2, 3)
		child.columns["label"] = NewMemory[any]("label", "a", "b", "c")

		placeholder := NewPlaceholderFilter("even", Indexable[int](child), isEven)
		col, err := placeholder.Key("label")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v, _, err := col.Get(ctx, 1); err != nil || v != "b" {
			t.Errorf("expected b, got %v (%v)", v, err)
		}
		v, info, err := col.Get(ctx, 0)
		if err != nil || v != nil || info[InfoFiltered] != true {
			t.Errorf("expected filtered placeholder, got %v %v (%v)", v, info, err)
		}

		reject := NewFilter("even", Indexable[int](child), isEven)
		col, _ = reject.Key("label")
		if _, _, err := col.Get(ctx, 0); !errors.Is(err, ErrNotAvailable) {
			t.Errorf("expected ErrNotAvailable, got %v", err)
		}
		if _, err := col.Len(); !errors.Is(err, ErrLengthUndefined) {
			t.Errorf("expected ErrLengthUndefined, got %v", err)
		}
	})

	t.Run("Clone", func(t *testing.T) {
		child := newTestSource("child", 2)
		f := NewFilter("even", Indexable[int](child), isEven)
		c := f.Clone()
		if child.clones() != 1 {
			t.Errorf("expected child cloned once, got %d", child.clones())
		}
		if v, _, err := c.Get(ctx, 0); err != nil || v != 2 {
			t.Errorf("expected 2, got %d (%v)", v, err)
		}
	})
}

func TestCompact(t *testing.T) {
	ctx := context.Background()
	src, _ := NewMemoryWithInfo("src", []int{1, 2, 3, 4}, []Info{{"k": 1}, {"k": 2}, {"k": 3}, {"k": 4}})

	for _, workers := range []int{0, 2} {
		mem, err := Compact(ctx, "even", Indexable[int](src), isEven, WithWorkers(workers))
		if err != nil {
			t.Fatalf("workers=%d: unexpected error: %v", workers, err)
		}
		if !slices.Equal(mem.Items(), []int{2, 4}) {
			t.Errorf("workers=%d: expected [2 4], got %v", workers, mem.Items())
		}
		_, info, _ := mem.Get(ctx, 1)
		if info["k"] != 4 {
			t.Errorf("workers=%d: expected item info kept, got %v", workers, info)
		}
	}

	t.Run("Nothing Passes", func(t *testing.T) {
		mem, err := Compact(ctx, "none", Indexable[int](src), func(context.Context, int) bool { return false })
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n, _ := mem.Len(); n != 0 {
			t.Errorf("expected empty result, got %d", n)
		}
	})
}
