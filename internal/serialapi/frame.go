package serialapi

import "fmt"

// Serial framing bytes.
const (
	frameSOF uint8 = 0x01
	frameACK uint8 = 0x06
	frameNAK uint8 = 0x15
	frameCAN uint8 = 0x18
)

// Data frame type byte (first byte after the length).
const (
	typeRequest  uint8 = 0x00
	typeResponse uint8 = 0x01
)

// checksum computes the Serial API LRC over the frame body (everything
// between SOF and the checksum byte itself): 0xFF XOR each byte.
func checksum(body []byte) uint8 {
	c := uint8(0xFF)
	for _, b := range body {
		c ^= b
	}
	return c
}

// encodeDataFrame builds a complete data frame:
// [SOF][len][type][funcID][params...][checksum], where len covers
// type+funcID+params+checksum.
func encodeDataFrame(frameType, funcID uint8, params []byte) []byte {
	length := uint8(len(params) + 3)
	frame := make([]byte, 0, len(params)+5)
	frame = append(frame, frameSOF, length, frameType, funcID)
	frame = append(frame, params...)
	frame = append(frame, checksum(frame[1:]))
	return frame
}

// decodeDataFrame validates and splits a frame body as read off the wire
// (length byte through checksum byte, SOF already consumed).
func decodeDataFrame(body []byte) (frameType, funcID uint8, params []byte, err error) {
	if len(body) < 4 {
		return 0, 0, nil, fmt.Errorf("data frame too short: %d bytes", len(body))
	}
	if int(body[0]) != len(body)-1 {
		return 0, 0, nil, fmt.Errorf("data frame length mismatch: header %d, have %d", body[0], len(body)-1)
	}
	if got, want := body[len(body)-1], checksum(body[:len(body)-1]); got != want {
		return 0, 0, nil, fmt.Errorf("data frame checksum 0x%02X, want 0x%02X", got, want)
	}
	return body[1], body[2], body[3 : len(body)-1], nil
}

// parseApplicationCommand splits the FUNC_ID_APPLICATION_COMMAND_HANDLER
// parameter block: [rxStatus][srcNode][cmdLen][cmd...].
func parseApplicationCommand(params []byte) (ApplicationCommand, error) {
	if len(params) < 3 {
		return ApplicationCommand{}, fmt.Errorf("application command too short: %d bytes", len(params))
	}
	cmdLen := int(params[2])
	if len(params) < 3+cmdLen {
		return ApplicationCommand{}, fmt.Errorf("application command truncated: declared %d, have %d", cmdLen, len(params)-3)
	}
	data := make([]byte, cmdLen)
	copy(data, params[3:3+cmdLen])
	return ApplicationCommand{
		RxStatus: params[0],
		NodeID:   params[1],
		Data:     data,
	}, nil
}
