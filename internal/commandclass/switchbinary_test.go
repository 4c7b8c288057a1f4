package commandclass

import (
	"bytes"
	"context"
	"testing"

	"zwave-go-home/internal/values"
)

func TestSwitchBinaryReport(t *testing.T) {
	deps, _, store := testDeps(t, 4)
	cc := NewSwitchBinary(deps)
	cc.CreateValues(1)

	if !cc.HandleMessage([]byte{0x03, 0xFF}, 1) {
		t.Fatal("report not handled")
	}
	v, _ := store.Get(4, SwitchBinaryID, 1, 0)
	if v.Current != 0xFF {
		t.Errorf("current = 0x%02X, want 0xFF", v.Current)
	}
}

func TestSwitchBinarySetValueNormalizesLevel(t *testing.T) {
	deps, sender, _ := testDeps(t, 4)
	cc := NewSwitchBinary(deps)

	v := values.Value{Kind: values.KindByte, Current: 42, Known: true}
	if !cc.SetValue(context.Background(), v) {
		t.Fatal("SetValue = false, want true")
	}
	// Any nonzero level is sent as 0xFF.
	if !bytes.Equal(sender.sent[0].Payload, []byte{0x25, 0x01, 0xFF}) {
		t.Errorf("payload = % X, want 25 01 FF", sender.sent[0].Payload)
	}
}

func TestSwitchBinarySetValueRejectsList(t *testing.T) {
	deps, sender, _ := testDeps(t, 4)
	cc := NewSwitchBinary(deps)

	v := values.Value{Kind: values.KindList, Options: []values.Option{{Label: "On", Code: 1}}, Current: 1}
	if cc.SetValue(context.Background(), v) {
		t.Error("SetValue(list value) = true, want false")
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent = %d frames, want 0", len(sender.sent))
	}
}

func TestBasicUnsolicitedSetTreatedAsReport(t *testing.T) {
	deps, _, store := testDeps(t, 4)
	cc := NewBasic(deps)
	cc.CreateValues(1)

	if !cc.HandleMessage([]byte{0x01, 99}, 1) {
		t.Fatal("unsolicited set not handled")
	}
	v, _ := store.Get(4, BasicID, 1, 0)
	if v.Current != 99 {
		t.Errorf("current = %d, want 99", v.Current)
	}
}

func TestBasicGetPayload(t *testing.T) {
	deps, sender, _ := testDeps(t, 4)
	cc := NewBasic(deps)

	cc.RequestState(context.Background(), RequestSession, 1)
	if !bytes.Equal(sender.sent[0].Payload, []byte{0x20, 0x02}) {
		t.Errorf("payload = % X, want 20 02", sender.sent[0].Payload)
	}
}
