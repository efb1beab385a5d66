package scan

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ADB wire constants.
const (
	adbPort = 5555

	adbCommandCNXN = 0x4e584e43
	adbCommandAUTH = 0x48545541
	adbCommandSTLS = 0x534c5453

	adbVersion    = 0x01000001
	adbMaxPayload = 256 * 1024
	adbHeaderSize = 24
)

// ADB device states reported by the debug-bridge probe.
const (
	ADBStateDevice       = "device"
	ADBStateUnauthorized = "unauthorized"
)

type adbMessage struct {
	Command uint32
	Arg0    uint32
	Arg1    uint32
	Payload []byte
}

func (m adbMessage) marshal() []byte {
	buf := make([]byte, adbHeaderSize+len(m.Payload))
	binary.LittleEndian.PutUint32(buf[0:], m.Command)
	binary.LittleEndian.PutUint32(buf[4:], m.Arg0)
	binary.LittleEndian.PutUint32(buf[8:], m.Arg1)
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(m.Payload)))
	binary.LittleEndian.PutUint32(buf[16:], adbChecksum(m.Payload))
	binary.LittleEndian.PutUint32(buf[20:], m.Command^0xffffffff)
	copy(buf[adbHeaderSize:], m.Payload)
	return buf
}

func adbChecksum(payload []byte) uint32 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}
	return sum
}

// readADBMessage reads one message, validating the header magic.
func readADBMessage(r io.Reader) (adbMessage, error) {
	header := make([]byte, adbHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return adbMessage{}, malformed("short adb header: %v", err)
		}
		return adbMessage{}, err
	}
	msg := adbMessage{
		Command: binary.LittleEndian.Uint32(header[0:]),
		Arg0:    binary.LittleEndian.Uint32(header[4:]),
		Arg1:    binary.LittleEndian.Uint32(header[8:]),
	}
	if magic := binary.LittleEndian.Uint32(header[20:]); magic != msg.Command^0xffffffff {
		return adbMessage{}, malformed("bad adb magic %#x for command %#x", magic, msg.Command)
	}
	length := binary.LittleEndian.Uint32(header[12:])
	if length > adbMaxPayload {
		return adbMessage{}, malformed("adb payload too large: %d", length)
	}
	if length > 0 {
		msg.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return adbMessage{}, malformed("short adb payload: %v", err)
		}
	}
	return msg, nil
}

// adbState maps the device's first reply to a connection state. An AUTH or STLS
// challenge means the daemon is listening but this host is not yet trusted.
func adbState(msg adbMessage) string {
	switch msg.Command {
	case adbCommandCNXN:
		banner := string(bytes.TrimRight(msg.Payload, "\x00"))
		state, _, _ := strings.Cut(banner, ":")
		if state == "" {
			return ADBStateDevice
		}
		return state
	case adbCommandAUTH, adbCommandSTLS:
		return ADBStateUnauthorized
	default:
		return ""
	}
}

// probeADB performs the opening CNXN handshake and returns the reported state
// as the response text.
func probeADB(ctx context.Context, host string, port uint16, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return Response{}, wrapNetError(err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	hello := adbMessage{
		Command: adbCommandCNXN,
		Arg0:    adbVersion,
		Arg1:    adbMaxPayload,
		Payload: []byte("host::\x00"),
	}
	if _, err := conn.Write(hello.marshal()); err != nil {
		return Response{Connected: true}, wrapNetError(err)
	}

	reply, err := readADBMessage(conn)
	if err != nil {
		return Response{Connected: true}, wrapNetError(err)
	}
	return Response{Connected: true, Data: []byte(adbState(reply))}, nil
}
