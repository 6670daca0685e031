//go:build unix

package ur_arm

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// socketError reads SO_ERROR from the connection's descriptor.
func socketError(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	var soErr int
	var getErr error
	if err := raw.Control(func(fd uintptr) {
		soErr, getErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
	}); err != nil {
		return -1
	}
	if getErr != nil {
		return -1
	}
	return soErr
}
