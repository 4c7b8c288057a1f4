package serialapi

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	ackTimeout   = 1600 * time.Millisecond
	sendAttempts = 3
)

// ZStick implements Driver for a Serial API controller stick (e.g. a UZB or
// Z-Stick on a USB CDC ACM port).
type ZStick struct {
	port     serial.Port
	portName string
	reader   *bufio.Reader
	logger   *slog.Logger

	// Serializes outgoing data frames and their ACK wait.
	writeMu sync.Mutex
	ackCh   chan uint8

	// Response tracking, keyed by function id.
	pendingMu sync.Mutex
	pending   map[uint8]chan []byte

	handlerMu    sync.RWMutex
	onAppCommand func(ApplicationCommand)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewZStick opens the serial port and starts the read loop.
func NewZStick(portName string, baud int, logger *slog.Logger) (*ZStick, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serialapi: open %s: %w", portName, err)
	}

	z := &ZStick{
		port:     port,
		portName: portName,
		reader:   bufio.NewReader(port),
		logger:   logger.With("component", "serialapi"),
		ackCh:    make(chan uint8, 8),
		pending:  make(map[uint8]chan []byte),
		done:     make(chan struct{}),
	}

	z.wg.Add(1)
	go z.readLoop()

	return z, nil
}

// Close shuts down the read loop and releases the port.
func (z *ZStick) Close() error {
	var err error
	z.closeOnce.Do(func() {
		close(z.done)
		err = z.port.Close()
		z.wg.Wait()
	})
	return err
}

// OnApplicationCommand registers the inbound command callback. The handler is
// invoked on the read-loop goroutine.
func (z *ZStick) OnApplicationCommand(handler func(ApplicationCommand)) {
	z.handlerMu.Lock()
	z.onAppCommand = handler
	z.handlerMu.Unlock()
}

// Version queries the controller's Serial API version string.
func (z *ZStick) Version(ctx context.Context) (string, error) {
	params, err := z.request(ctx, FuncGetVersion, nil)
	if err != nil {
		return "", err
	}
	// Null-terminated version string followed by the library type byte.
	for i, b := range params {
		if b == 0 {
			return string(params[:i]), nil
		}
	}
	return string(params), nil
}

// MemoryGetID reads the controller's home id and own node id.
func (z *ZStick) MemoryGetID(ctx context.Context) (uint32, uint8, error) {
	params, err := z.request(ctx, FuncMemoryGetID, nil)
	if err != nil {
		return 0, 0, err
	}
	if len(params) < 5 {
		return 0, 0, fmt.Errorf("memory get id: short response: %d bytes", len(params))
	}
	return binary.BigEndian.Uint32(params[:4]), params[4], nil
}

// SendData queues one command frame for transmission to a node. It returns
// once the controller accepts the frame; delivery and routing are the
// controller's concern.
func (z *ZStick) SendData(ctx context.Context, req Request) error {
	params, err := z.request(ctx, FuncSendData, req.Encode())
	if err != nil {
		return fmt.Errorf("send data to node %d: %w", req.NodeID, err)
	}
	if len(params) >= 1 && params[0] == 0 {
		return fmt.Errorf("send data to node %d: controller transmit queue full", req.NodeID)
	}
	return nil
}

// request sends a data frame and waits for the matching response frame.
func (z *ZStick) request(ctx context.Context, funcID uint8, params []byte) ([]byte, error) {
	respCh := make(chan []byte, 1)

	z.pendingMu.Lock()
	if _, busy := z.pending[funcID]; busy {
		z.pendingMu.Unlock()
		return nil, fmt.Errorf("func 0x%02X: request already in flight", funcID)
	}
	z.pending[funcID] = respCh
	z.pendingMu.Unlock()

	defer func() {
		z.pendingMu.Lock()
		delete(z.pending, funcID)
		z.pendingMu.Unlock()
	}()

	if err := z.sendFrame(funcID, params); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-z.done:
		return nil, fmt.Errorf("func 0x%02X: driver closed", funcID)
	}
}

// sendFrame writes one data frame and waits for the link-level ACK,
// retrying on NAK, CAN, or timeout.
func (z *ZStick) sendFrame(funcID uint8, params []byte) error {
	z.writeMu.Lock()
	defer z.writeMu.Unlock()

	frame := encodeDataFrame(typeRequest, funcID, params)

	for attempt := 1; attempt <= sendAttempts; attempt++ {
		// Drop stale ACKs from previous exchanges.
		for {
			select {
			case <-z.ackCh:
				continue
			default:
			}
			break
		}

		if _, err := z.port.Write(frame); err != nil {
			return fmt.Errorf("write func 0x%02X: %w", funcID, err)
		}

		select {
		case b := <-z.ackCh:
			if b == frameACK {
				return nil
			}
			z.logger.Warn("frame not acknowledged", "func", fmt.Sprintf("0x%02X", funcID), "reply", fmt.Sprintf("0x%02X", b), "attempt", attempt)
		case <-time.After(ackTimeout):
			z.logger.Warn("ack timeout", "func", fmt.Sprintf("0x%02X", funcID), "attempt", attempt)
		case <-z.done:
			return fmt.Errorf("write func 0x%02X: driver closed", funcID)
		}
	}
	return fmt.Errorf("func 0x%02X: no ack after %d attempts", funcID, sendAttempts)
}

// readLoop parses the inbound byte stream into frames and dispatches them.
func (z *ZStick) readLoop() {
	defer z.wg.Done()

	for {
		b, err := z.reader.ReadByte()
		if err != nil {
			select {
			case <-z.done:
				return
			default:
			}
			if err == io.EOF {
				z.logger.Error("serial port closed unexpectedly", "port", z.portName)
			} else {
				z.logger.Error("serial read", "err", err)
			}
			return
		}

		switch b {
		case frameSOF:
			if err := z.readDataFrame(); err != nil {
				z.logger.Warn("bad data frame", "err", err)
				z.port.Write([]byte{frameNAK})
			}
		case frameACK, frameNAK, frameCAN:
			select {
			case z.ackCh <- b:
			default:
			}
		default:
			z.logger.Debug("skipping stray byte", "byte", fmt.Sprintf("0x%02X", b))
		}
	}
}

// readDataFrame reads the rest of a frame after SOF and dispatches it.
func (z *ZStick) readDataFrame() error {
	length, err := z.reader.ReadByte()
	if err != nil {
		return err
	}
	body := make([]byte, int(length)+1)
	body[0] = length
	if _, err := io.ReadFull(z.reader, body[1:]); err != nil {
		return err
	}

	frameType, funcID, params, err := decodeDataFrame(body)
	if err != nil {
		return err
	}
	z.port.Write([]byte{frameACK})

	switch frameType {
	case typeResponse:
		z.pendingMu.Lock()
		ch := z.pending[funcID]
		z.pendingMu.Unlock()
		if ch != nil {
			cp := make([]byte, len(params))
			copy(cp, params)
			select {
			case ch <- cp:
			default:
			}
		} else {
			z.logger.Debug("unsolicited response", "func", fmt.Sprintf("0x%02X", funcID))
		}

	case typeRequest:
		switch funcID {
		case FuncApplicationCommand:
			cmd, err := parseApplicationCommand(params)
			if err != nil {
				z.logger.Warn("bad application command", "err", err)
				return nil
			}
			z.handlerMu.RLock()
			handler := z.onAppCommand
			z.handlerMu.RUnlock()
			if handler != nil {
				handler(cmd)
			}
		case FuncSendData:
			// Transmit complete callback; delivery status only.
			if len(params) >= 2 {
				z.logger.Debug("transmit complete", "status", params[1])
			}
		default:
			z.logger.Debug("unhandled request frame", "func", fmt.Sprintf("0x%02X", funcID))
		}
	}
	return nil
}
