// Package link provides the byte transport between the host and the HV
// supply: a serial port implementation and an in-memory simulated device.
package link

import (
	"errors"

	"github.com/npm-group/hvctl/pkg/protocol"
)

// ErrNotOpen is returned by Write and Read on a link that is not open.
var ErrNotOpen = errors.New("link is not open")

// Link is the transport a channel talks through. Write sends the command
// byte followed by the payload. Read returns at most n bytes; fewer bytes
// without an error means the device did not answer in time.
type Link interface {
	Open() error
	Close() error
	Write(cmd protocol.Command, payload []byte) error
	Read(n int) ([]byte, error)
}

func frame(cmd protocol.Command, payload []byte) []byte {
	b := make([]byte, 0, 1+len(payload))
	b = append(b, byte(cmd))
	return append(b, payload...)
}
