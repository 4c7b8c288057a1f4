// Package serialapi implements the Z-Wave Serial API transport to a
// controller stick attached over a USB serial port.
package serialapi

import "context"

// Serial API function identifiers used by this driver.
const (
	FuncGetVersion         uint8 = 0x15
	FuncMemoryGetID        uint8 = 0x20
	FuncSendData           uint8 = 0x13
	FuncApplicationCommand uint8 = 0x04
)

// Transmit option flags appended to outgoing data frames. Interpreted by the
// controller, not by this host.
const (
	TransmitOptionACK       uint8 = 0x01
	TransmitOptionAutoRoute uint8 = 0x04
)

// Driver is the abstract interface to a Z-Wave controller.
type Driver interface {
	// Controller info
	Version(ctx context.Context) (string, error)
	MemoryGetID(ctx context.Context) (homeID uint32, nodeID uint8, err error)

	// Data plane
	SendData(ctx context.Context, req Request) error

	// Indication callback for unsolicited application commands.
	OnApplicationCommand(handler func(ApplicationCommand))

	// Lifecycle
	Close() error
}

// Request is one outgoing command handed to the driver for transmission.
// Payload carries the command class id, the opcode, and any opcode
// parameters; the driver wraps it with the destination and transmit options.
type Request struct {
	NodeID    uint8
	Payload   []byte
	TxOptions uint8
}

// Encode returns the FUNC_ID_ZW_SEND_DATA parameter block:
// [nodeID][payload length][payload...][txOptions].
func (r Request) Encode() []byte {
	out := make([]byte, 0, len(r.Payload)+3)
	out = append(out, r.NodeID, uint8(len(r.Payload)))
	out = append(out, r.Payload...)
	out = append(out, r.TxOptions)
	return out
}

// ApplicationCommand is an unsolicited command received from a node.
// Data carries the command class id followed by the opcode and parameters.
type ApplicationCommand struct {
	RxStatus uint8
	NodeID   uint8
	Data     []byte
}
