package ipc

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// peerUID returns the effective uid of the process on the other end of
// a Unix domain socket, via SO_PEERCRED (spec §4.5.3). Clients running
// as the daemon's own uid are auto-authenticated.
func peerUID(conn *net.UnixConn) (uint32, bool) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, false
	}

	var uid uint32
	var ok bool
	ctrlErr := raw.Control(func(fd uintptr) {
		ucred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err != nil {
			return
		}
		uid = ucred.Uid
		ok = true
	})
	if ctrlErr != nil {
		return 0, false
	}
	return uid, ok
}

var processUID = uint32(os.Getuid())
