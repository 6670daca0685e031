//go:build !unix

package ur_arm

import "net"

func socketError(conn net.Conn) int {
	return 0
}
