package proxy

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/paivaspol/mahimahi/pkg/errors"
)

// originalDestination recovers the address a DNAT'd connection was
// originally headed for, via the kernel's SO_ORIGINAL_DST facility. The
// surrounding container has redirected all TCP traffic to our listener, so
// this is the only way to learn where to connect upstream.
func originalDestination(conn *net.TCPConn) (ip string, port uint16, err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return "", 0, errors.NewIOError("accessing raw connection", err)
	}

	var addr *unix.IPv6Mreq
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		// SO_ORIGINAL_DST returns a sockaddr_in, which fits the
		// 16-byte IPv6Mreq getsockopt shape.
		addr, sockErr = unix.GetsockoptIPv6Mreq(int(fd), unix.IPPROTO_IP, unix.SO_ORIGINAL_DST)
	})
	if ctrlErr != nil {
		return "", 0, errors.NewIOError("reading SO_ORIGINAL_DST", ctrlErr)
	}
	if sockErr != nil {
		return "", 0, errors.NewIOError("reading SO_ORIGINAL_DST", sockErr)
	}

	// sockaddr_in layout: family(2) port(2, network order) addr(4)
	port = binary.BigEndian.Uint16(addr.Multiaddr[2:4])
	ip = fmt.Sprintf("%d.%d.%d.%d",
		addr.Multiaddr[4], addr.Multiaddr[5], addr.Multiaddr[6], addr.Multiaddr[7])
	return ip, port, nil
}
