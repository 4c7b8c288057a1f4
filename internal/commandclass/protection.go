package commandclass

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/values"
)

// ProtectionID is the COMMAND_CLASS_PROTECTION id.
const ProtectionID uint8 = 0x75

// Protection command opcodes.
const (
	protectionSet    uint8 = 0x01
	protectionGet    uint8 = 0x02
	protectionReport uint8 = 0x03
)

// ProtectionState is the state a device reports for how it guards itself
// against local or remote modification.
type ProtectionState uint8

const (
	ProtectionUnprotected ProtectionState = 0
	ProtectionBySequence  ProtectionState = 1
	ProtectionNoOperation ProtectionState = 2
)

var protectionStateNames = [...]string{
	"Unprotected",
	"Protection by Sequence",
	"No Operation Possible",
}

// ErrUnknownState is returned for a state code outside the defined set.
var ErrUnknownState = errors.New("unknown protection state")

// Name returns the display label for a state. Codes received from the wire
// must pass through here; anything outside the table is an error, never an
// index.
func (s ProtectionState) Name() (string, error) {
	if int(s) >= len(protectionStateNames) {
		return "", fmt.Errorf("%w: code %d", ErrUnknownState, uint8(s))
	}
	return protectionStateNames[s], nil
}

// ProtectionOptions returns the full option list, in ascending code order.
func ProtectionOptions() []values.Option {
	opts := make([]values.Option, 0, len(protectionStateNames))
	for i, label := range protectionStateNames {
		opts = append(opts, values.Option{Label: label, Code: uint8(i)})
	}
	return opts
}

// Protection handles the Protection command class for one node.
type Protection struct {
	deps   Deps
	logger *slog.Logger
}

// NewProtection creates the handler.
func NewProtection(deps Deps) CommandClass {
	return &Protection{
		deps:   deps,
		logger: deps.Logger.With("cc", "protection", "node", deps.NodeID),
	}
}

func (p *Protection) ID() uint8    { return ProtectionID }
func (p *Protection) Name() string { return "Protection" }

// CreateValues registers the single enumerated protection value at index 0.
func (p *Protection) CreateValues(instance uint8) {
	meta := values.Metadata{
		CommandClassID: ProtectionID,
		Instance:       instance,
		Index:          0,
		Label:          "Protection",
		Genre:          values.GenreSystem,
	}
	if err := p.deps.Values.RegisterList(p.deps.NodeID, meta, ProtectionOptions()); err != nil {
		p.logger.Error("register protection value", "err", err)
	}
}

// RequestState queries the current protection state on a session request.
// There is no static state to ask for.
func (p *Protection) RequestState(ctx context.Context, flags uint8, instance uint8) bool {
	if flags&RequestSession == 0 {
		return false
	}
	p.RequestValue(ctx, instance)
	return true
}

// RequestValue sends a Protection Get. Fire and forget: the answer arrives
// as an unsolicited Report, or never.
func (p *Protection) RequestValue(ctx context.Context, instance uint8) {
	req := serialapi.Request{
		NodeID:    p.deps.NodeID,
		Payload:   []byte{ProtectionID, protectionGet},
		TxOptions: defaultTxOptions,
	}
	if err := p.deps.Sender.SendData(ctx, req); err != nil {
		p.logger.Error("send protection get", "err", err)
	}
}

// HandleMessage decodes a Protection Report. Any other opcode is left for
// the rest of the dispatch chain. A report code outside the defined state
// set is rejected: logged and dropped without touching the value.
func (p *Protection) HandleMessage(data []byte, instance uint8) bool {
	if len(data) == 0 || data[0] != protectionReport {
		return false
	}
	if len(data) < 2 {
		p.logger.Warn("protection report missing state byte")
		return true
	}

	state := ProtectionState(data[1])
	label, err := state.Name()
	if err != nil {
		p.logger.Warn("rejecting protection report", "err", err)
		return true
	}
	p.logger.Info("protection report", "state", label)

	err = p.deps.Values.SetCode(p.deps.NodeID, ProtectionID, instance, 0, data[1])
	if errors.Is(err, values.ErrNotFound) {
		// No value bound for this instance yet; the frame itself was fine.
		p.logger.Debug("no protection value registered", "instance", instance)
	} else if err != nil {
		p.logger.Warn("update protection value", "err", err)
	}
	return true
}

// SetValue sends a Protection Set for the option selected in v. Only list
// values fit this class; anything else is rejected without producing a frame.
func (p *Protection) SetValue(ctx context.Context, v values.Value) bool {
	if v.Kind != values.KindList {
		return false
	}
	opt, ok := v.Option()
	if !ok {
		return false
	}

	p.logger.Info("setting protection state", "state", opt.Label)
	req := serialapi.Request{
		NodeID:    p.deps.NodeID,
		Payload:   []byte{ProtectionID, protectionSet, opt.Code},
		TxOptions: defaultTxOptions,
	}
	if err := p.deps.Sender.SendData(ctx, req); err != nil {
		p.logger.Error("send protection set", "err", err)
	}
	return true
}
