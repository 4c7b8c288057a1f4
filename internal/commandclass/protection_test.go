package commandclass

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/values"
)

// fakeSender records every request handed to it.
type fakeSender struct {
	sent []serialapi.Request
	err  error
}

func (f *fakeSender) SendData(_ context.Context, req serialapi.Request) error {
	f.sent = append(f.sent, req)
	return f.err
}

func testDeps(t *testing.T, nodeID uint8) (Deps, *fakeSender, *values.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	sender := &fakeSender{}
	store := values.NewStore(logger)
	return Deps{NodeID: nodeID, Sender: sender, Values: store, Logger: logger}, sender, store
}

func TestProtectionStateName(t *testing.T) {
	tests := []struct {
		state ProtectionState
		want  string
	}{
		{ProtectionUnprotected, "Unprotected"},
		{ProtectionBySequence, "Protection by Sequence"},
		{ProtectionNoOperation, "No Operation Possible"},
	}
	for _, tt := range tests {
		got, err := tt.state.Name()
		if err != nil {
			t.Errorf("Name(%d): %v", tt.state, err)
		}
		if got != tt.want {
			t.Errorf("Name(%d) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestProtectionStateNameOutOfRange(t *testing.T) {
	_, err := ProtectionState(3).Name()
	if !errors.Is(err, ErrUnknownState) {
		t.Fatalf("err = %v, want ErrUnknownState", err)
	}
}

func TestProtectionCreateValues(t *testing.T) {
	deps, _, store := testDeps(t, 7)
	cc := NewProtection(deps)
	cc.CreateValues(1)

	v, ok := store.Get(7, ProtectionID, 1, 0)
	if !ok {
		t.Fatal("protection value not registered")
	}
	if v.Kind != values.KindList {
		t.Errorf("kind = %d, want list", v.Kind)
	}
	if v.Meta.Genre != values.GenreSystem {
		t.Errorf("genre = %q, want system", v.Meta.Genre)
	}
	if v.Meta.Persisted {
		t.Error("persisted = true, want false")
	}

	wantLabels := []string{"Unprotected", "Protection by Sequence", "No Operation Possible"}
	if len(v.Options) != len(wantLabels) {
		t.Fatalf("options = %d, want %d", len(v.Options), len(wantLabels))
	}
	for i, want := range wantLabels {
		if v.Options[i].Code != uint8(i) || v.Options[i].Label != want {
			t.Errorf("option %d = {%q, %d}, want {%q, %d}", i, v.Options[i].Label, v.Options[i].Code, want, i)
		}
	}
}

func TestProtectionRequestStateSendsGet(t *testing.T) {
	deps, sender, _ := testDeps(t, 7)
	cc := NewProtection(deps)

	if !cc.RequestState(context.Background(), RequestSession, 1) {
		t.Fatal("RequestState(session) = false, want true")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d frames, want 1", len(sender.sent))
	}
	req := sender.sent[0]
	if req.NodeID != 7 {
		t.Errorf("node = %d, want 7", req.NodeID)
	}
	if !bytes.Equal(req.Payload, []byte{0x75, 0x02}) {
		t.Errorf("payload = % X, want 75 02", req.Payload)
	}
	if req.TxOptions != serialapi.TransmitOptionACK|serialapi.TransmitOptionAutoRoute {
		t.Errorf("tx options = 0x%02X", req.TxOptions)
	}
}

func TestProtectionRequestStateIgnoresNonSession(t *testing.T) {
	deps, sender, _ := testDeps(t, 7)
	cc := NewProtection(deps)

	if cc.RequestState(context.Background(), RequestStatic, 1) {
		t.Error("RequestState(static) = true, want false")
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent = %d frames, want 0", len(sender.sent))
	}
}

func TestProtectionHandleReportAllStates(t *testing.T) {
	for code := uint8(0); code <= 2; code++ {
		deps, _, store := testDeps(t, 7)
		cc := NewProtection(deps)
		cc.CreateValues(1)

		if !cc.HandleMessage([]byte{0x03, code}, 1) {
			t.Fatalf("code %d: HandleMessage = false, want true", code)
		}

		v, _ := store.Get(7, ProtectionID, 1, 0)
		if !v.Known || v.Current != code {
			t.Errorf("code %d: value = {known %v, current %d}", code, v.Known, v.Current)
		}
		opt, ok := v.Option()
		if !ok {
			t.Fatalf("code %d: no matching option", code)
		}
		want, _ := ProtectionState(code).Name()
		if opt.Label != want {
			t.Errorf("code %d: label = %q, want %q", code, opt.Label, want)
		}
	}
}

func TestProtectionHandleIgnoresOtherOpcodes(t *testing.T) {
	deps, _, store := testDeps(t, 7)
	cc := NewProtection(deps)
	cc.CreateValues(1)

	for _, data := range [][]byte{nil, {0x01, 0x00}, {0x02}, {0x04, 0x01}} {
		if cc.HandleMessage(data, 1) {
			t.Errorf("HandleMessage(% X) = true, want false", data)
		}
	}
	if v, _ := store.Get(7, ProtectionID, 1, 0); v.Known {
		t.Error("value mutated by unhandled frame")
	}
}

func TestProtectionHandleRejectsOutOfRangeCode(t *testing.T) {
	deps, _, store := testDeps(t, 7)
	cc := NewProtection(deps)
	cc.CreateValues(1)

	// Still handled (the frame addressed this class), but the update is dropped.
	if !cc.HandleMessage([]byte{0x03, 0x07}, 1) {
		t.Fatal("HandleMessage = false, want true")
	}
	if v, _ := store.Get(7, ProtectionID, 1, 0); v.Known {
		t.Error("out-of-range code mutated the value")
	}
}

func TestProtectionHandleReportWithoutValue(t *testing.T) {
	deps, _, _ := testDeps(t, 7)
	cc := NewProtection(deps)
	// CreateValues never called: decode must still succeed as a no-op.

	if !cc.HandleMessage([]byte{0x03, 0x01}, 1) {
		t.Fatal("HandleMessage = false, want true")
	}
}

func TestProtectionHandleTruncatedReport(t *testing.T) {
	deps, _, store := testDeps(t, 7)
	cc := NewProtection(deps)
	cc.CreateValues(1)

	if !cc.HandleMessage([]byte{0x03}, 1) {
		t.Fatal("HandleMessage = false, want true")
	}
	if v, _ := store.Get(7, ProtectionID, 1, 0); v.Known {
		t.Error("truncated report mutated the value")
	}
}

func TestProtectionSetValue(t *testing.T) {
	deps, sender, store := testDeps(t, 7)
	cc := NewProtection(deps)
	cc.CreateValues(1)

	v, _ := store.Get(7, ProtectionID, 1, 0)
	opt, ok := v.OptionByLabel("Protection by Sequence")
	if !ok {
		t.Fatal("option not found")
	}
	v.Current = opt.Code
	v.Known = true

	if !cc.SetValue(context.Background(), v) {
		t.Fatal("SetValue = false, want true")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d frames, want 1", len(sender.sent))
	}
	if !bytes.Equal(sender.sent[0].Payload, []byte{0x75, 0x01, 0x01}) {
		t.Errorf("payload = % X, want 75 01 01", sender.sent[0].Payload)
	}
}

func TestProtectionSetValueRejectsWrongKind(t *testing.T) {
	deps, sender, _ := testDeps(t, 7)
	cc := NewProtection(deps)

	v := values.Value{Kind: values.KindByte, Current: 1}
	if cc.SetValue(context.Background(), v) {
		t.Error("SetValue(byte value) = true, want false")
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent = %d frames, want 0", len(sender.sent))
	}
}

// Session start to report consumption, end to end across the handler.
func TestProtectionSessionRoundTrip(t *testing.T) {
	deps, sender, store := testDeps(t, 12)
	cc := NewProtection(deps)
	cc.CreateValues(1)

	// Session start: Get goes out.
	if !cc.RequestState(context.Background(), RequestSession, 1) {
		t.Fatal("no session request sent")
	}
	if !bytes.Equal(sender.sent[0].Payload, []byte{0x75, 0x02}) {
		t.Fatalf("get payload = % X", sender.sent[0].Payload)
	}

	// Device answers with "No Operation Possible".
	if !cc.HandleMessage([]byte{0x03, 0x02}, 1) {
		t.Fatal("report not handled")
	}

	v, _ := store.Get(12, ProtectionID, 1, 0)
	if ProtectionState(v.Current) != ProtectionNoOperation {
		t.Errorf("state = %d, want %d", v.Current, ProtectionNoOperation)
	}
	if got := v.Display(); got != "No Operation Possible" {
		t.Errorf("display = %v, want %q", got, "No Operation Possible")
	}
}
