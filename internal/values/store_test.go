package values

import (
	"errors"
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func testOptions() []Option {
	return []Option{
		{Label: "Off", Code: 0},
		{Label: "On", Code: 1},
	}
}

func TestRegisterListAndGet(t *testing.T) {
	s := NewStore(testLogger())

	meta := Metadata{CommandClassID: 0x75, Instance: 1, Index: 0, Label: "Mode", Genre: GenreSystem}
	if err := s.RegisterList(5, meta, testOptions()); err != nil {
		t.Fatal(err)
	}

	v, ok := s.Get(5, 0x75, 1, 0)
	if !ok {
		t.Fatal("value not found")
	}
	if v.Kind != KindList {
		t.Errorf("kind = %d, want list", v.Kind)
	}
	if v.Known {
		t.Error("known = true before first report")
	}
	if len(v.Options) != 2 {
		t.Errorf("options = %d, want 2", len(v.Options))
	}
}

func TestRegisterListEmptyOptions(t *testing.T) {
	s := NewStore(testLogger())
	err := s.RegisterList(5, Metadata{Label: "Mode"}, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestSetCodeUpdatesAndNotifies(t *testing.T) {
	s := NewStore(testLogger())
	s.RegisterList(5, Metadata{CommandClassID: 0x75, Instance: 1, Label: "Mode"}, testOptions())

	var got []Change
	unsub := s.Subscribe(func(ch Change) { got = append(got, ch) })
	defer unsub()

	if err := s.SetCode(5, 0x75, 1, 0, 1); err != nil {
		t.Fatal(err)
	}

	v, _ := s.Get(5, 0x75, 1, 0)
	if !v.Known || v.Current != 1 {
		t.Errorf("value = {known %v, current %d}, want {true, 1}", v.Known, v.Current)
	}
	opt, ok := v.Option()
	if !ok || opt.Label != "On" {
		t.Errorf("option = %+v, want On", opt)
	}

	if len(got) != 1 {
		t.Fatalf("changes = %d, want 1", len(got))
	}
	if got[0].NodeID != 5 || got[0].Value.Current != 1 {
		t.Errorf("change = %+v", got[0])
	}
}

func TestSetCodeRejectsUnknownListCode(t *testing.T) {
	s := NewStore(testLogger())
	s.RegisterList(5, Metadata{CommandClassID: 0x75, Instance: 1, Label: "Mode"}, testOptions())

	notified := false
	unsub := s.Subscribe(func(Change) { notified = true })
	defer unsub()

	err := s.SetCode(5, 0x75, 1, 0, 9)
	if !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}
	if notified {
		t.Error("subscriber notified on rejected code")
	}
	if v, _ := s.Get(5, 0x75, 1, 0); v.Known {
		t.Error("value marked known after rejected code")
	}
}

func TestSetCodeUnregistered(t *testing.T) {
	s := NewStore(testLogger())
	err := s.SetCode(5, 0x75, 1, 0, 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestByteValueAcceptsAnyCode(t *testing.T) {
	s := NewStore(testLogger())
	s.RegisterByte(5, Metadata{CommandClassID: 0x20, Instance: 1, Label: "Basic"})

	if err := s.SetCode(5, 0x20, 1, 0, 0xFF); err != nil {
		t.Fatal(err)
	}
	v, _ := s.Get(5, 0x20, 1, 0)
	if v.Current != 0xFF {
		t.Errorf("current = %d, want 255", v.Current)
	}
}

func TestForNodeOrdering(t *testing.T) {
	s := NewStore(testLogger())
	s.RegisterByte(5, Metadata{CommandClassID: 0x25, Instance: 1, Label: "Switch"})
	s.RegisterByte(5, Metadata{CommandClassID: 0x20, Instance: 1, Label: "Basic"})
	s.RegisterByte(6, Metadata{CommandClassID: 0x20, Instance: 1, Label: "Basic"})

	vals := s.ForNode(5)
	if len(vals) != 2 {
		t.Fatalf("values = %d, want 2", len(vals))
	}
	if vals[0].Meta.CommandClassID != 0x20 || vals[1].Meta.CommandClassID != 0x25 {
		t.Errorf("ordering = [0x%02X, 0x%02X], want [0x20, 0x25]",
			vals[0].Meta.CommandClassID, vals[1].Meta.CommandClassID)
	}
}

func TestRemoveNode(t *testing.T) {
	s := NewStore(testLogger())
	s.RegisterByte(5, Metadata{CommandClassID: 0x20, Instance: 1, Label: "Basic"})
	s.RemoveNode(5)

	if _, ok := s.Get(5, 0x20, 1, 0); ok {
		t.Error("value still present after RemoveNode")
	}
}

func TestUnsubscribe(t *testing.T) {
	s := NewStore(testLogger())
	s.RegisterByte(5, Metadata{CommandClassID: 0x20, Instance: 1, Label: "Basic"})

	count := 0
	unsub := s.Subscribe(func(Change) { count++ })
	s.SetCode(5, 0x20, 1, 0, 1)
	unsub()
	s.SetCode(5, 0x20, 1, 0, 2)

	if count != 1 {
		t.Errorf("notifications = %d, want 1", count)
	}
}
