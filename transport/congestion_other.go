//go:build !linux

package transport

import (
	"fmt"
	"syscall"
)

func setCongestionControl(_ syscall.RawConn, algorithm string) error {
	return fmt.Errorf("congestion control %q requires linux", algorithm)
}
