package commandclass

import (
	"context"
	"errors"
	"log/slog"

	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/values"
)

// SwitchBinaryID is the COMMAND_CLASS_SWITCH_BINARY id.
const SwitchBinaryID uint8 = 0x25

const (
	switchBinarySet    uint8 = 0x01
	switchBinaryGet    uint8 = 0x02
	switchBinaryReport uint8 = 0x03

	switchBinaryOn  uint8 = 0xFF
	switchBinaryOff uint8 = 0x00
)

// SwitchBinary handles the Binary Switch command class.
type SwitchBinary struct {
	deps   Deps
	logger *slog.Logger
}

// NewSwitchBinary creates the handler.
func NewSwitchBinary(deps Deps) CommandClass {
	return &SwitchBinary{
		deps:   deps,
		logger: deps.Logger.With("cc", "binary_switch", "node", deps.NodeID),
	}
}

func (s *SwitchBinary) ID() uint8    { return SwitchBinaryID }
func (s *SwitchBinary) Name() string { return "Binary Switch" }

func (s *SwitchBinary) CreateValues(instance uint8) {
	meta := values.Metadata{
		CommandClassID: SwitchBinaryID,
		Instance:       instance,
		Index:          0,
		Label:          "Switch",
		Genre:          values.GenreUser,
	}
	if err := s.deps.Values.RegisterByte(s.deps.NodeID, meta); err != nil {
		s.logger.Error("register switch value", "err", err)
	}
}

func (s *SwitchBinary) RequestState(ctx context.Context, flags uint8, instance uint8) bool {
	if flags&RequestSession == 0 {
		return false
	}
	req := serialapi.Request{
		NodeID:    s.deps.NodeID,
		Payload:   []byte{SwitchBinaryID, switchBinaryGet},
		TxOptions: defaultTxOptions,
	}
	if err := s.deps.Sender.SendData(ctx, req); err != nil {
		s.logger.Error("send switch get", "err", err)
	}
	return true
}

func (s *SwitchBinary) HandleMessage(data []byte, instance uint8) bool {
	if len(data) == 0 || data[0] != switchBinaryReport {
		return false
	}
	if len(data) < 2 {
		s.logger.Warn("switch report missing state byte")
		return true
	}

	s.logger.Info("switch report", "on", data[1] != switchBinaryOff)
	err := s.deps.Values.SetCode(s.deps.NodeID, SwitchBinaryID, instance, 0, data[1])
	if errors.Is(err, values.ErrNotFound) {
		s.logger.Debug("no switch value registered", "instance", instance)
	} else if err != nil {
		s.logger.Warn("update switch value", "err", err)
	}
	return true
}

func (s *SwitchBinary) SetValue(ctx context.Context, v values.Value) bool {
	if v.Kind != values.KindByte {
		return false
	}

	level := switchBinaryOff
	if v.Current != 0 {
		level = switchBinaryOn
	}
	s.logger.Info("setting switch", "on", level == switchBinaryOn)
	req := serialapi.Request{
		NodeID:    s.deps.NodeID,
		Payload:   []byte{SwitchBinaryID, switchBinarySet, level},
		TxOptions: defaultTxOptions,
	}
	if err := s.deps.Sender.SendData(ctx, req); err != nil {
		s.logger.Error("send switch set", "err", err)
	}
	return true
}
