package commandclass

import (
	"context"
	"errors"
	"log/slog"

	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/values"
)

// BasicID is the COMMAND_CLASS_BASIC id.
const BasicID uint8 = 0x20

const (
	basicSet    uint8 = 0x01
	basicGet    uint8 = 0x02
	basicReport uint8 = 0x03
)

// Basic handles the Basic command class: one untyped level byte every
// Z-Wave device understands.
type Basic struct {
	deps   Deps
	logger *slog.Logger
}

// NewBasic creates the handler.
func NewBasic(deps Deps) CommandClass {
	return &Basic{
		deps:   deps,
		logger: deps.Logger.With("cc", "basic", "node", deps.NodeID),
	}
}

func (b *Basic) ID() uint8    { return BasicID }
func (b *Basic) Name() string { return "Basic" }

func (b *Basic) CreateValues(instance uint8) {
	meta := values.Metadata{
		CommandClassID: BasicID,
		Instance:       instance,
		Index:          0,
		Label:          "Basic",
		Genre:          values.GenreUser,
	}
	if err := b.deps.Values.RegisterByte(b.deps.NodeID, meta); err != nil {
		b.logger.Error("register basic value", "err", err)
	}
}

func (b *Basic) RequestState(ctx context.Context, flags uint8, instance uint8) bool {
	if flags&RequestSession == 0 {
		return false
	}
	req := serialapi.Request{
		NodeID:    b.deps.NodeID,
		Payload:   []byte{BasicID, basicGet},
		TxOptions: defaultTxOptions,
	}
	if err := b.deps.Sender.SendData(ctx, req); err != nil {
		b.logger.Error("send basic get", "err", err)
	}
	return true
}

func (b *Basic) HandleMessage(data []byte, instance uint8) bool {
	// Devices may push state as either a Report or an unsolicited Set.
	if len(data) == 0 || (data[0] != basicReport && data[0] != basicSet) {
		return false
	}
	if len(data) < 2 {
		b.logger.Warn("basic report missing level byte")
		return true
	}

	b.logger.Info("basic report", "level", data[1])
	err := b.deps.Values.SetCode(b.deps.NodeID, BasicID, instance, 0, data[1])
	if errors.Is(err, values.ErrNotFound) {
		b.logger.Debug("no basic value registered", "instance", instance)
	} else if err != nil {
		b.logger.Warn("update basic value", "err", err)
	}
	return true
}

func (b *Basic) SetValue(ctx context.Context, v values.Value) bool {
	if v.Kind != values.KindByte {
		return false
	}

	b.logger.Info("setting basic level", "level", v.Current)
	req := serialapi.Request{
		NodeID:    b.deps.NodeID,
		Payload:   []byte{BasicID, basicSet, v.Current},
		TxOptions: defaultTxOptions,
	}
	if err := b.deps.Sender.SendData(ctx, req); err != nil {
		b.logger.Error("send basic set", "err", err)
	}
	return true
}
