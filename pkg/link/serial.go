package link

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/npm-group/hvctl/pkg/protocol"
)

// DefaultBaudRate is the rate the FTDI bridge of the supply runs at.
const DefaultBaudRate = 38400

// Port is the subset of serial.Port the link uses.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// openPort is replaced in tests.
var openPort = func(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// SerialConfig describes how to reach the device.
type SerialConfig struct {
	Port     string
	BaudRate int
	// ReadTimeout bounds a single telemetry read.
	ReadTimeout time.Duration
	// OpenTimeout bounds the retries of Open.
	OpenTimeout time.Duration
}

// Serial is a Link over a serial port, 8-N-1.
type Serial struct {
	conf SerialConfig
	log  logrus.FieldLogger

	mu   sync.Mutex
	port Port
}

// NewSerial returns a closed serial link.
func NewSerial(conf SerialConfig, log logrus.FieldLogger) *Serial {
	if conf.BaudRate == 0 {
		conf.BaudRate = DefaultBaudRate
	}
	if conf.ReadTimeout == 0 {
		conf.ReadTimeout = 200 * time.Millisecond
	}
	if conf.OpenTimeout <= 0 {
		// backoff treats a zero MaxElapsedTime as "retry forever"
		conf.OpenTimeout = time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Serial{
		conf: conf,
		log:  log.WithField("port", conf.Port),
	}
}

// Open opens the port, retrying with exponential backoff for at most
// OpenTimeout. Opening an open link is a no-op.
func (s *Serial) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: s.conf.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	attempts := 0
	op := func() error {
		attempts++
		p, err := openPort(s.conf.Port, mode)
		if err != nil {
			s.log.WithError(err).WithField("attempt", attempts).Debug("failed to open serial port")
			return err
		}
		if err := p.SetReadTimeout(s.conf.ReadTimeout); err != nil {
			_ = p.Close()
			return err
		}
		s.port = p
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         500 * time.Millisecond,
		MaxElapsedTime:      s.conf.OpenTimeout,
		Clock:               backoff.SystemClock})
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open %s after %d attempts", s.conf.Port, attempts)
	}

	s.log.WithField("baudRate", s.conf.BaudRate).Info("serial port opened")
	return nil
}

// Close closes the port. Closing a closed link is a no-op.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to close %s", s.conf.Port)
	}
	return nil
}

func (s *Serial) Write(cmd protocol.Command, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return ErrNotOpen
	}
	if cmd == protocol.CommandGet {
		// drop late bytes of a previous answer so frames stay aligned
		if err := s.port.ResetInputBuffer(); err != nil {
			return pkgerrors.Wrap(err, "failed to reset input buffer")
		}
	}

	b := frame(cmd, payload)
	n, err := s.port.Write(b)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to write %s", cmd)
	}
	if n != len(b) {
		return pkgerrors.Errorf("short write of %s: %d of %d bytes", cmd, n, len(b))
	}
	return nil
}

// Read reads up to n bytes. The read stops early, without error, as soon as
// the port read timeout expires with no data.
func (s *Serial) Read(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil, ErrNotOpen
	}

	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := s.port.Read(buf[got:])
		if err != nil {
			return buf[:got], pkgerrors.Wrap(err, "failed to read")
		}
		if m == 0 {
			break
		}
		got += m
	}
	return buf[:got], nil
}
