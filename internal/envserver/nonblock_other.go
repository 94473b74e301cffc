//go:build !unix

package envserver

import "os"

// setNonBlocking has no portable equivalent to O_NONBLOCK outside unix;
// Windows environments are not yet supported by this package.
func setNonBlocking(f *os.File) error {
	panic("envserver: non-blocking stdin is not implemented on this platform")
}

func isWouldBlock(err error) bool {
	return false
}
