package dabstract

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func newDataset(t *testing.T, name string, audio, label []any) *NamedSequence {
	t.Helper()
	ds := NewNamedSequence(name)
	if err := ds.Add(context.Background(), "audio", NewMemory("audio", audio...)); err != nil {
		t.Fatalf("adding audio: %v", err)
	}
	if err := ds.Add(context.Background(), "label", NewMemory("label", label...)); err != nil {
		t.Fatalf("adding label: %v", err)
	}
	return ds
}

func TestNamedSequence(t *testing.T) {
	ctx := context.Background()

	t.Run("Get Returns Every Active Column", func(t *testing.T) {
		ds := newDataset(t, "ds", []any{"a0", "a1"}, []any{"speech", "music"})
		if !slices.Equal(ds.Keys(), []string{"audio", "label"}) {
			t.Errorf("unexpected keys %v", ds.Keys())
		}
		n, err := ds.Len()
		if err != nil || n != 2 {
			t.Fatalf("expected length 2, got %d (%v)", n, err)
		}
		item, info, err := ds.Get(ctx, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		row := item.(map[string]any)
		if row["audio"] != "a1" || row["label"] != "music" {
			t.Errorf("unexpected row %v", row)
		}
		if _, ok := info["audio"].(Info); !ok {
			t.Errorf("expected per-column info, got %v", info)
		}
	})

	t.Run("Single Active Key Returns The Bare Value", func(t *testing.T) {
		ds := newDataset(t, "ds", []any{"a0"}, []any{"speech"})
		if err := ds.SetActiveKeys("label"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		v, _, err := ds.Get(ctx, 0)
		if err != nil || v != "speech" {
			t.Errorf("expected speech, got %v (%v)", v, err)
		}
		if !slices.Equal(ds.ActiveKeys(), []string{"label"}) {
			t.Errorf("unexpected active keys %v", ds.ActiveKeys())
		}
		ds.ResetActiveKeys()
		if len(ds.ActiveKeys()) != 2 {
			t.Errorf("expected every key active again, got %v", ds.ActiveKeys())
		}
		if err := ds.SetActiveKeys("missing"); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("New Key Resets Active Keys", func(t *testing.T) {
		ds := newDataset(t, "ds", []any{"a0"}, []any{"speech"})
		_ = ds.SetActiveKeys("audio")
		_ = ds.Add(ctx, "speaker", NewMemory[any]("speaker", "s0"))
		if len(ds.ActiveKeys()) != 3 {
			t.Errorf("expected every key active, got %v", ds.ActiveKeys())
		}
	})

	t.Run("Empty Active Keys Rejected", func(t *testing.T) {
		ds := newDataset(t, "ds", []any{"a0"}, []any{"speech"})
		if err := ds.SetActiveKeys(); !errors.Is(err, ErrInvalidIndex) {
			t.Fatalf("expected ErrInvalidIndex, got %v", err)
		}
		if len(ds.ActiveKeys()) != 2 {
			t.Errorf("expected every key still active, got %v", ds.ActiveKeys())
		}
		if _, _, err := ds.Get(ctx, 0); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Empty Structure", func(t *testing.T) {
		ds := NewNamedSequence("empty")
		if n, err := ds.Len(); err != nil || n != 0 {
			t.Errorf("expected length 0, got %d (%v)", n, err)
		}
		if _, _, err := ds.Get(ctx, 0); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("expected ErrOutOfRange, got %v", err)
		}
	})

	t.Run("Misaligned Column Rejected", func(t *testing.T) {
		ds := newDataset(t, "ds", []any{"a0", "a1"}, []any{"speech", "music"})
		err := ds.Add(ctx, "speaker", NewMemory[any]("speaker", "s0"))
		if !errors.Is(err, ErrIntegrity) {
			t.Fatalf("expected ErrIntegrity, got %v", err)
		}
		if slices.Contains(ds.Keys(), "speaker") {
			t.Error("expected the column not to be added")
		}
	})

	t.Run("Reserved Key", func(t *testing.T) {
		ds := NewNamedSequence("ds")
		if err := ds.Add(ctx, ReservedKey, NewMemory[any]("all", 1)); !errors.Is(err, ErrReservedKey) {
			t.Errorf("expected ErrReservedKey, got %v", err)
		}
		ds = newDataset(t, "ds", []any{"a0"}, []any{"speech"})
		if err := ds.AddAlias(ctx, "label", ReservedKey); !errors.Is(err, ErrReservedKey) {
			t.Errorf("expected ErrReservedKey, got %v", err)
		}
	})

	t.Run("Eager Column", func(t *testing.T) {
		src := newTestSource[any]("audio", "a0", "a1")
		ds := NewNamedSequence("ds")
		if err := ds.Add(ctx, "audio", src, Eager()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if src.calls() != 2 {
			t.Errorf("expected the column read once at add, got %d reads", src.calls())
		}
		lazy, _ := ds.IsLazy("audio")
		if lazy {
			t.Error("expected an eager column")
		}
		col, _ := ds.Column("audio")
		if _, ok := col.(*Memory[any]); !ok {
			t.Errorf("expected an in-memory column, got %T", col)
		}
		_, _, _ = ds.Get(ctx, 0)
		if src.calls() != 2 {
			t.Errorf("expected no further reads, got %d", src.calls())
		}
	})

	t.Run("Re-adding Keeps The Lazy Flag", func(t *testing.T) {
		ds := NewNamedSequence("ds")
		_ = ds.Add(ctx, "audio", NewMemory[any]("audio", "a0"), Eager())
		_ = ds.Add(ctx, "audio", opaqueSource[any]{inner: NewMemory[any]("audio", "b0")})
		lazy, _ := ds.IsLazy("audio")
		if lazy {
			t.Error("expected the column to stay eager")
		}
		if v, _, _ := ds.GetKey(ctx, 0, "audio"); v != "b0" {
			t.Errorf("expected the replacement, got %v", v)
		}
		_ = ds.Add(ctx, "audio", NewMemory[any]("audio", "c0"), Lazy())
		if lazy, _ := ds.IsLazy("audio"); !lazy {
			t.Error("expected the column to become lazy")
		}
	})

	t.Run("Column Info", func(t *testing.T) {
		for _, opt := range []ColumnOption{Lazy(), Eager()} {
			ds := NewNamedSequence("ds")
			err := ds.Add(ctx, "label", NewMemory[any]("label", "x", "y"), opt, ColumnInfo([]Info{{"fold": 1}, {"fold": 2}}))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_, info, _ := ds.GetKey(ctx, 1, "label")
			if info["fold"] != 2 {
				t.Errorf("expected fold 2, got %v", info)
			}
		}
		ds := NewNamedSequence("ds")
		err := ds.Add(ctx, "label", NewMemory[any]("label", "x"), ColumnInfo([]Info{{}, {}}))
		if !errors.Is(err, ErrIntegrity) {
			t.Errorf("expected ErrIntegrity, got %v", err)
		}
	})

	t.Run("AddDict", func(t *testing.T) {
		ds := NewNamedSequence("ds")
		err := ds.AddDict(ctx, map[string]Indexable[any]{
			"b": NewMemory[any]("b", 1),
			"a": NewMemory[any]("a", 2),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(ds.Keys(), []string{"a", "b"}) {
			t.Errorf("expected sorted keys, got %v", ds.Keys())
		}
	})

	t.Run("Remove", func(t *testing.T) {
		ds := newDataset(t, "ds", []any{"a0"}, []any{"speech"})
		if err := ds.Remove("audio"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(ds.Keys(), []string{"label"}) {
			t.Errorf("unexpected keys %v", ds.Keys())
		}
		if err := ds.Remove("audio"); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("AddMap", func(t *testing.T) {
		ds := NewNamedSequence("ds")
		_ = ds.Add(ctx, "n", NewMemory[any]("n", 1, 2))
		_ = ds.Add(ctx, "m", NewMemory[any]("m", 3, 4), Eager())
		double := func(_ context.Context, v any, _ Info) (any, error) { return v.(int) * 2, nil }
		if err := ds.AddMap(ctx, "n", double); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := ds.AddMap(ctx, "m", double); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v, _, _ := ds.GetKey(ctx, 1, "n"); v != 4 {
			t.Errorf("expected 4, got %v", v)
		}
		col, _ := ds.Column("m")
		if _, ok := col.(*Memory[any]); !ok {
			t.Errorf("expected the eager column materialized again, got %T", col)
		}
		if v, _, _ := ds.GetKey(ctx, 0, "m"); v != 6 {
			t.Errorf("expected 6, got %v", v)
		}
		if err := ds.AddMap(ctx, "missing", double); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("AddAlias", func(t *testing.T) {
		ds := newDataset(t, "ds", []any{"a0"}, []any{"speech"})
		if err := ds.AddAlias(ctx, "label", "target"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v, _, _ := ds.GetKey(ctx, 0, "target"); v != "speech" {
			t.Errorf("expected speech, got %v", v)
		}
		if err := ds.AddAlias(ctx, "label", "audio"); !errors.Is(err, ErrIntegrity) {
			t.Errorf("expected ErrIntegrity for a taken alias, got %v", err)
		}
		if err := ds.AddAlias(ctx, "missing", "x"); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("AddSelect", func(t *testing.T) {
		ds := newDataset(t, "ds", []any{"a0", "a1", "a2", "a3"}, []any{"speech", "music", "speech", "noise"})
		_ = ds.Add(ctx, "speaker", NewMemory[any]("speaker", "s0", "s1", "s2", "s3"), Eager())
		if err := ds.AddSelect(ctx, ByValue("label", "speech")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n, _ := ds.Len(); n != 2 {
			t.Fatalf("expected 2 rows, got %d", n)
		}
		row, _, _ := ds.Get(ctx, 1)
		if row.(map[string]any)["audio"] != "a2" || row.(map[string]any)["speaker"] != "s2" {
			t.Errorf("unexpected row %v", row)
		}
		if lazy, _ := ds.IsLazy("speaker"); lazy {
			t.Error("expected the eager column to stay eager")
		}
		if v := ds.Metrics().Counter(NamedSelectsTotal).Value(); v != 1 {
			t.Errorf("expected 1 select, got %v", v)
		}
	})

	t.Run("AddSelect Recurses Into Nested Structures", func(t *testing.T) {
		meta := NewNamedSequence("meta")
		_ = meta.Add(ctx, "rate", NewMemory[any]("rate", 8000, 16000, 44100))
		ds := NewNamedSequence("ds")
		_ = ds.Add(ctx, "audio", NewMemory[any]("audio", "a0", "a1", "a2"))
		_ = ds.Add(ctx, "meta", meta)

		if err := ds.AddSelect(ctx, Indices[any](2, 0)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		inner, _ := ds.Column("meta")
		if _, ok := inner.(*NamedSequence); !ok {
			t.Fatalf("expected a nested structure, got %T", inner)
		}
		if v, _, _ := inner.Get(ctx, 0); v != 44100 {
			t.Errorf("expected 44100, got %v", v)
		}
		if n, _ := meta.Len(); n != 3 {
			t.Errorf("expected the original nested structure untouched, got length %d", n)
		}
	})

	t.Run("AddSelectOn", func(t *testing.T) {
		ds := newDataset(t, "ds", []any{"a0", "a1", "a2"}, []any{"x", "y", "z"})
		keep := NewMemory[any]("keep", false, true, true)
		sel := Where(func(ctx context.Context, target Indexable[any], i int) (bool, error) {
			v, _, err := target.Get(ctx, i)
			return v == true, err
		})
		if err := ds.AddSelectOn(ctx, sel, keep); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		v, _, _ := ds.GetKey(ctx, 0, "label")
		if v != "y" {
			t.Errorf("expected y, got %v", v)
		}
	})

	t.Run("Concat", func(t *testing.T) {
		a := newDataset(t, "a", []any{"a0"}, []any{"speech"})
		b := newDataset(t, "b", []any{"b0", "b1"}, []any{"music", "noise"})
		if err := a.Concat(ctx, b, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n, _ := a.Len(); n != 3 {
			t.Fatalf("expected 3 rows, got %d", n)
		}
		if v, _, _ := a.GetKey(ctx, 2, "label"); v != "noise" {
			t.Errorf("expected noise, got %v", v)
		}
		_ = b.Add(ctx, "audio", NewMemory[any]("audio", "c0", "c1"))
		if v, _, _ := a.GetKey(ctx, 1, "audio"); v != "b0" {
			t.Errorf("expected the other side cloned, got %v", v)
		}
	})

	t.Run("Concat Recurses Into Nested Structures", func(t *testing.T) {
		nested := func(name string, rates ...any) *NamedSequence {
			meta := NewNamedSequence(name)
			_ = meta.Add(ctx, "rate", NewMemory[any]("rate", rates...))
			_ = meta.Add(ctx, "channels", NewMemory[any]("channels", make([]any, len(rates))...))
			return meta
		}
		a := NewNamedSequence("a")
		_ = a.Add(ctx, "audio", NewMemory[any]("audio", "a0"))
		_ = a.Add(ctx, "meta", nested("meta", 8000))
		b := NewNamedSequence("b")
		_ = b.Add(ctx, "audio", NewMemory[any]("audio", "b0", "b1"))
		_ = b.Add(ctx, "meta", nested("meta", 16000, 44100))

		if err := a.Concat(ctx, b, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		col, _ := a.Column("meta")
		meta, ok := col.(*NamedSequence)
		if !ok {
			t.Fatalf("expected a nested structure, got %T", col)
		}
		if !slices.Equal(meta.Keys(), []string{"rate", "channels"}) {
			t.Errorf("expected the nested keys kept, got %v", meta.Keys())
		}
		if v, _, _ := meta.GetKey(ctx, 2, "rate"); v != 44100 {
			t.Errorf("expected 44100, got %v", v)
		}

		if err := a.AddSelect(ctx, Indices[any](1)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		col, _ = a.Column("meta")
		if v, _, _ := col.(*NamedSequence).GetKey(ctx, 0, "rate"); v != 16000 {
			t.Errorf("expected the selection to reach the nested structure, got %v", v)
		}
	})

	t.Run("Concat Into Empty", func(t *testing.T) {
		a := NewNamedSequence("a")
		b := newDataset(t, "b", []any{"b0"}, []any{"music"})
		if err := a.Concat(ctx, b, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(a.Keys(), []string{"audio", "label"}) {
			t.Errorf("unexpected keys %v", a.Keys())
		}
	})

	t.Run("Concat Key Mismatch", func(t *testing.T) {
		a := newDataset(t, "a", []any{"a0"}, []any{"speech"})
		b := NewNamedSequence("b")
		_ = b.Add(ctx, "audio", NewMemory[any]("audio", "b0"))
		_ = b.Add(ctx, "speaker", NewMemory[any]("speaker", "s0"))

		if err := a.Concat(ctx, b, false); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("expected ErrIntegrity, got %v", err)
		}
		if n, _ := a.Len(); n != 1 || len(a.Keys()) != 2 {
			t.Errorf("expected a untouched, got %d rows and keys %v", n, a.Keys())
		}

		if err := a.Concat(ctx, b, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(a.Keys(), []string{"audio"}) {
			t.Errorf("expected only the common key, got %v", a.Keys())
		}
		if n, _ := a.Len(); n != 2 {
			t.Errorf("expected 2 rows, got %d", n)
		}
	})

	t.Run("Concat Eager Columns", func(t *testing.T) {
		a := NewNamedSequence("a")
		_ = a.Add(ctx, "x", NewMemory[any]("x", 1), Eager())
		b := NewNamedSequence("b")
		_ = b.Add(ctx, "x", NewMemory[any]("x", 2), Eager())
		if err := a.Concat(ctx, b, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		col, _ := a.Column("x")
		mem, ok := col.(*Memory[any])
		if !ok || !slices.Equal(mem.Items(), []any{1, 2}) {
			t.Errorf("expected in-memory [1 2], got %T", col)
		}

		c := NewNamedSequence("c")
		_ = c.Add(ctx, "x", opaqueSource[any]{inner: NewMemory[any]("x", 3)})
		if err := a.Concat(ctx, c, false); !errors.Is(err, ErrIntegrity) {
			t.Errorf("expected ErrIntegrity for an eager/lazy mix, got %v", err)
		}
		if n, _ := a.Len(); n != 2 {
			t.Errorf("expected a rolled back to 2 rows, got %d", n)
		}
	})

	t.Run("Merge Leaves Both Sides Untouched", func(t *testing.T) {
		a := newDataset(t, "a", []any{"a0"}, []any{"speech"})
		b := newDataset(t, "b", []any{"b0"}, []any{"music"})
		m, err := a.Merge(ctx, b, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n, _ := m.Len(); n != 2 {
			t.Errorf("expected 2 rows, got %d", n)
		}
		if n, _ := a.Len(); n != 1 {
			t.Errorf("expected a untouched, got %d rows", n)
		}
		if v := m.Metrics().Counter(NamedConcatsTotal).Value(); v != 1 {
			t.Errorf("expected 1 concat on the merge result, got %v", v)
		}
	})

	t.Run("Clone Is Deep", func(t *testing.T) {
		audio := NewMemory[any]("audio", "a0")
		ds := NewNamedSequence("ds")
		_ = ds.Add(ctx, "audio", audio)
		c := ds.Clone()
		_ = audio.Set(ctx, 0, "changed")
		_ = ds.Add(ctx, "label", NewMemory[any]("label", "l0"))
		v, _, _ := c.Get(ctx, 0)
		if v != "a0" {
			t.Errorf("expected the clone to keep a0, got %v", v)
		}
	})
}

func TestEdit(t *testing.T) {
	ctx := context.Background()

	t.Run("Unequal Lengths Inside An Edit", func(t *testing.T) {
		ds := newDataset(t, "ds", []any{"a0", "a1"}, []any{"x", "y"})
		edit := ds.Begin()
		if err := edit.Add(ctx, "audio", NewMemory[any]("audio", "b0")); err != nil {
			t.Fatalf("unexpected error inside edit: %v", err)
		}
		if n, _ := ds.Len(); n != 2 {
			t.Errorf("expected staged changes hidden until commit, got %d rows", n)
		}
		if err := edit.Add(ctx, "label", NewMemory[any]("label", "z")); err != nil {
			t.Fatalf("unexpected error inside edit: %v", err)
		}
		if err := edit.Commit(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n, _ := ds.Len(); n != 1 {
			t.Errorf("expected 1 row, got %d", n)
		}
	})

	t.Run("Commit Restores On Misalignment", func(t *testing.T) {
		ds := newDataset(t, "ds", []any{"a0", "a1"}, []any{"x", "y"})
		edit := ds.Begin()
		_ = edit.Add(ctx, "audio", NewMemory[any]("audio", "b0"))
		if err := edit.Commit(); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("expected ErrIntegrity, got %v", err)
		}
		if v, _, _ := ds.GetKey(ctx, 1, "audio"); v != "a1" {
			t.Errorf("expected the original column restored, got %v", v)
		}
	})

	t.Run("Writes Outside The Edit Are Checked And Kept", func(t *testing.T) {
		ds := NewNamedSequence("ds")
		_ = ds.Add(ctx, "a", NewMemory[any]("a", 1, 2, 3))
		edit := ds.Begin()

		if err := ds.Add(ctx, "b", NewMemory[any]("b", 1, 2)); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("expected an outside write to be checked while an edit is open, got %v", err)
		}
		if err := ds.Add(ctx, "c", NewMemory[any]("c", 7, 8, 9)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		_ = edit.Add(ctx, "a", NewMemory[any]("a", 1, 2))
		if err := edit.Commit(); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("expected ErrIntegrity, got %v", err)
		}
		if !slices.Equal(ds.Keys(), []string{"a", "c"}) {
			t.Errorf("expected the outside write kept, got keys %v", ds.Keys())
		}
		if n, err := ds.Len(); err != nil || n != 3 {
			t.Errorf("expected 3 rows, got %d (%v)", n, err)
		}

		edit = ds.Begin()
		_ = ds.Add(ctx, "d", NewMemory[any]("d", 0, 0, 0))
		_ = edit.Add(ctx, "a", NewMemory[any]("a", 4, 5, 6))
		if err := edit.Commit(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(ds.Keys(), []string{"a", "c", "d"}) {
			t.Errorf("expected every write kept, got keys %v", ds.Keys())
		}
		if v, _, _ := ds.GetKey(ctx, 0, "a"); v != 4 {
			t.Errorf("expected the edited column, got %v", v)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		ds := newDataset(t, "ds", []any{"a0"}, []any{"x"})
		edit := ds.Begin()
		if err := edit.Remove("label"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := edit.Remove("label"); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
		_ = edit.Add(ctx, "speaker", NewMemory[any]("speaker", "s0"))
		if !slices.Equal(edit.Keys(), []string{"audio", "speaker"}) {
			t.Errorf("unexpected staged keys %v", edit.Keys())
		}
		if err := edit.Commit(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(ds.Keys(), []string{"audio", "speaker"}) {
			t.Errorf("unexpected keys %v", ds.Keys())
		}
	})

	t.Run("Rollback", func(t *testing.T) {
		ds := newDataset(t, "ds", []any{"a0"}, []any{"x"})
		edit := ds.Begin()
		_ = edit.Remove("label")
		_ = edit.Add(ctx, "other", NewMemory[any]("other", 1, 2, 3))
		if err := edit.Rollback(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(ds.Keys(), []string{"audio", "label"}) {
			t.Errorf("expected keys unchanged, got %v", ds.Keys())
		}
	})

	t.Run("Closed Edit", func(t *testing.T) {
		ds := NewNamedSequence("ds")
		edit := ds.Begin()
		_ = edit.Commit()
		if err := edit.Commit(); !errors.Is(err, ErrEditClosed) {
			t.Errorf("expected ErrEditClosed, got %v", err)
		}
		if err := edit.Rollback(); !errors.Is(err, ErrEditClosed) {
			t.Errorf("expected ErrEditClosed, got %v", err)
		}
		if err := edit.Add(ctx, "x", NewMemory[any]("x", 1)); !errors.Is(err, ErrEditClosed) {
			t.Errorf("expected ErrEditClosed, got %v", err)
		}
	})
}

func TestUnpack(t *testing.T) {
	ctx := context.Background()
	ds := newDataset(t, "ds", []any{"a0", "a1"}, []any{"x", "y"})

	t.Run("Several Keys", func(t *testing.T) {
		u, err := ds.Unpack("label", "audio")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		item, info, err := u.Get(ctx, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(item.([]any), []any{"y", "a1"}) {
			t.Errorf("expected [y a1], got %v", item)
		}
		if _, ok := info["label"]; !ok {
			t.Errorf("expected per-key info, got %v", info)
		}
		if n, _ := u.Len(); n != 2 {
			t.Errorf("expected length 2, got %d", n)
		}
		if !slices.Equal(u.Keys(), []string{"label", "audio"}) {
			t.Errorf("unexpected keys %v", u.Keys())
		}
	})

	t.Run("One Key", func(t *testing.T) {
		u, _ := NewUnpack("labels", ds, "label")
		if v, _, _ := u.Get(ctx, 0); v != "x" {
			t.Errorf("expected x, got %v", v)
		}
	})

	t.Run("Invalid Keys", func(t *testing.T) {
		if _, err := ds.Unpack(); !errors.Is(err, ErrInvalidIndex) {
			t.Errorf("expected ErrInvalidIndex, got %v", err)
		}
		if _, err := ds.Unpack("missing"); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("Key And Clone", func(t *testing.T) {
		u, _ := ds.Unpack("audio", "label")
		col, err := u.Key("label")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v, _, _ := col.Get(ctx, 1); v != "y" {
			t.Errorf("expected y, got %v", v)
		}
		c := u.Clone()
		if n, _ := c.Len(); n != 2 {
			t.Errorf("expected clone length 2, got %d", n)
		}
	})
}
