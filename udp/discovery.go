package udp

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// discoveryPacketLen is the fixed 74-byte IP Discovery datagram (spec.md §6):
// 2 bytes type, 2 bytes length, 4 bytes SSRC, 64 bytes address, 2 bytes port.
const discoveryPacketLen = 74

const (
	discoveryTypeRequest  uint16 = 0x1
	discoveryBodyLen      uint16 = 70
	discoveryAddressStart        = 8
	discoveryAddressEnd          = 8 + 64
)

// Discover performs the UDP IP-discovery handshake described in spec.md §6:
// send our SSRC, read back the external address:port Discord observed.
func Discover(ctx context.Context, conn net.Conn, ssrc uint32) (externalIP string, externalPort uint16, err error) {
	req := make([]byte, discoveryPacketLen)
	binary.BigEndian.PutUint16(req[0:2], discoveryTypeRequest)
	binary.BigEndian.PutUint16(req[2:4], discoveryBodyLen)
	binary.BigEndian.PutUint32(req[4:8], ssrc)

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(zeroTime)
	}

	if _, err := conn.Write(req); err != nil {
		return "", 0, errors.Wrap(err, "udp: ip discovery write failed")
	}

	resp := make([]byte, discoveryPacketLen)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return "", 0, errors.Wrap(err, "udp: ip discovery read failed")
	}

	addrBytes := resp[discoveryAddressStart:discoveryAddressEnd]
	nullPos := bytes.IndexByte(addrBytes, 0)
	if nullPos < 0 {
		return "", 0, errors.New("udp: ip discovery response missing null terminator")
	}

	ip := string(addrBytes[:nullPos])
	port := binary.BigEndian.Uint16(resp[discoveryAddressEnd : discoveryAddressEnd+2])

	if net.ParseIP(ip) == nil {
		return "", 0, errors.Errorf("udp: ip discovery returned invalid address %q", ip)
	}

	return ip, port, nil
}

// addrString joins an IP and port the way net.Dial expects.
func addrString(ip string, port uint16) string {
	return net.JoinHostPort(ip, strconv.Itoa(int(port)))
}
