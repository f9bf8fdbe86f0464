package channel

import (
	pkgerrors "github.com/pkg/errors"

	"github.com/npm-group/hvctl/pkg/calibration"
)

// Lease is a single-owner handle on a channel. While a lease is held no
// other lease can be acquired. Every verb of a released lease is a no-op,
// so a stale owner cannot reach the device.
type Lease struct {
	c     *Channel
	id    uint64
	owner string
}

// Acquire takes exclusive ownership of the channel for owner.
func (c *Channel) Acquire(owner string) (*Lease, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.leaseID != 0 {
		return nil, pkgerrors.Wrapf(ErrBusy, "held by %s", c.holder)
	}
	c.nextLease++
	c.leaseID = c.nextLease
	c.holder = owner
	c.log.WithField("owner", owner).Debug("channel lease acquired")
	return &Lease{c: c, id: c.leaseID, owner: owner}, nil
}

// Holder returns the current lease owner, empty when the channel is free.
func (c *Channel) Holder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holder
}

// Release gives the channel back. It is safe to call more than once.
func (l *Lease) Release() {
	c := l.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.leaseID != l.id {
		return
	}
	c.leaseID = 0
	c.holder = ""
	c.log.WithField("owner", l.owner).Debug("channel lease released")
}

// Owner returns the name the lease was acquired with.
func (l *Lease) Owner() string {
	return l.owner
}

// Held reports whether the lease is still the current one.
func (l *Lease) Held() bool {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return l.c.leaseID == l.id
}

// IsOpen reports false once the lease is released.
func (l *Lease) IsOpen() bool {
	return l.Held() && l.c.IsOpen()
}

func (l *Lease) Set(voltage, current float64) error {
	if !l.Held() {
		return nil
	}
	return l.c.Set(voltage, current)
}

func (l *Lease) Apply() {
	if l.Held() {
		l.c.Apply()
	}
}

func (l *Lease) Reset() {
	if l.Held() {
		l.c.Reset()
	}
}

func (l *Lease) ReadIU() (current, voltage float64) {
	if !l.Held() {
		return 0, 0
	}
	return l.c.ReadIU()
}

func (l *Lease) Setup(voltage, current float64) error {
	if !l.Held() {
		return nil
	}
	return l.c.Setup(voltage, current)
}

func (l *Lease) Calibration() calibration.Record {
	return l.c.cal
}
