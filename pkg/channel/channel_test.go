package channel

import (
	"errors"
	"math"
	"testing"

	"github.com/npm-group/hvctl/pkg/calibration"
	"github.com/npm-group/hvctl/pkg/link"
	"github.com/npm-group/hvctl/pkg/protocol"
)

var testRecord = calibration.Record{
	Name:               "HV-3000",
	ADCFullScaleCode:   4095,
	DACFullScaleCode:   4095,
	VoltageMax:         3000,
	VoltageMin:         0,
	VoltageStep:        1,
	CurrentStep:        1,
	SenseResistance:    1000,
	FeedbackResistance: 1e4,
	CurrentMin:         0,
	CurrentMax:         100,
	CurrentUnit:        calibration.CurrentMicro,
}

func newTestChannel(t *testing.T) (*Channel, *link.FakeDevice) {
	t.Helper()
	dev := link.NewFakeDevice(testRecord)
	c, err := New(dev, testRecord, Options{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return c, dev
}

func TestNewRejectsInvalidRecord(t *testing.T) {
	bad := testRecord
	bad.FeedbackResistance = 0
	if _, err := New(link.NewFakeDevice(bad), bad, Options{}); err == nil {
		t.Fatalf("expected error for invalid record")
	}
}

func TestClosedChannelIsNoop(t *testing.T) {
	c, dev := newTestChannel(t)

	if err := c.Set(100, 10); err != nil {
		t.Fatalf("Set on closed channel returned error: %v", err)
	}
	c.Apply()
	c.Reset()
	if i, u := c.ReadIU(); i != 0 || u != 0 {
		t.Fatalf("expected zero reading, got %g, %g", i, u)
	}
	if len(dev.Exchanges()) != 0 {
		t.Fatalf("closed channel wrote %v", dev.Exchanges())
	}
}

func TestOpenFailureStaysClosed(t *testing.T) {
	c, dev := newTestChannel(t)
	dev.FailOpen(errors.New("no such device"))

	c.Open()
	if c.IsOpen() {
		t.Fatalf("channel should stay closed")
	}

	dev.FailOpen(nil)
	c.Open()
	if !c.IsOpen() {
		t.Fatalf("channel should be open")
	}
}

func TestSetApplyRead(t *testing.T) {
	c, dev := newTestChannel(t)
	var transitions []bool
	c.OnStateChange(func(open bool) { transitions = append(transitions, open) })

	c.Open()
	if err := c.Set(1500, 10); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	c.Apply()
	i, u := c.ReadIU()
	if math.Abs(u-1500) > testRecord.VoltageStep || math.Abs(i-10) > testRecord.CurrentStep {
		t.Fatalf("unexpected reading %g, %g", i, u)
	}

	ex := dev.Exchanges()
	want := []protocol.Command{protocol.CommandSet, protocol.CommandUpdate, protocol.CommandGet}
	if len(ex) != len(want) {
		t.Fatalf("expected %d commands, got %v", len(want), ex)
	}
	for n, cmd := range want {
		if ex[n].Command != cmd {
			t.Fatalf("command %d is %s, want %s", n, ex[n].Command, cmd)
		}
	}
	if ex[0].Payload[0] != 0x00 || ex[0].Payload[1] != 0x08 {
		t.Fatalf("unexpected SET payload % x", ex[0].Payload)
	}

	st := c.Status()
	if !st.Open || st.Output.Voltage != 1500 {
		t.Fatalf("unexpected status %+v", st)
	}

	c.Close()
	if len(transitions) != 2 || !transitions[0] || transitions[1] {
		t.Fatalf("unexpected transitions %v", transitions)
	}
}

func TestSetOutOfRangeWritesNothing(t *testing.T) {
	c, dev := newTestChannel(t)
	c.Open()

	if err := c.Set(5000, 10); !errors.Is(err, protocol.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if len(dev.Exchanges()) != 0 {
		t.Fatalf("out of range setpoint was written: %v", dev.Exchanges())
	}
	if !c.IsOpen() {
		t.Fatalf("a rejected setpoint must not close the channel")
	}
}

func TestWriteFailureClosesChannel(t *testing.T) {
	c, dev := newTestChannel(t)
	c.Open()

	dev.FailWrite(errors.New("broken pipe"))
	if err := c.Set(100, 10); err != nil {
		t.Fatalf("transport errors must not be returned, got %v", err)
	}
	if c.IsOpen() {
		t.Fatalf("write failure should close the channel")
	}

	dev.FailWrite(nil)
	c.Apply()
	c.Reset()
	if len(dev.Exchanges()) != 0 {
		t.Fatalf("closed channel wrote %v", dev.Exchanges())
	}
}

func TestReadFailures(t *testing.T) {
	c, dev := newTestChannel(t)
	c.Open()
	_ = c.Setup(1000, 10)

	dev.Corrupt(true)
	if i, u := c.ReadIU(); i != 0 || u != 0 {
		t.Fatalf("malformed frame should read as zero, got %g, %g", i, u)
	}
	dev.Corrupt(false)

	dev.Mute(true)
	if i, u := c.ReadIU(); i != 0 || u != 0 {
		t.Fatalf("short read should read as zero, got %g, %g", i, u)
	}
	if !c.IsOpen() {
		t.Fatalf("short or malformed reads must not close the channel")
	}
	dev.Mute(false)

	dev.FailRead(errors.New("device gone"))
	if i, u := c.ReadIU(); i != 0 || u != 0 {
		t.Fatalf("failed read should read as zero, got %g, %g", i, u)
	}
	if c.IsOpen() {
		t.Fatalf("read failure should close the channel")
	}
}

func TestSetupResetsNearZero(t *testing.T) {
	c, dev := newTestChannel(t)
	c.Open()

	_ = c.Setup(0.5, 10)
	_ = c.Setup(200, 10)

	ex := dev.Exchanges()
	if len(ex) != 3 || ex[0].Command != protocol.CommandReset || ex[1].Command != protocol.CommandSet || ex[2].Command != protocol.CommandUpdate {
		t.Fatalf("unexpected commands %v", ex)
	}
}

func TestLease(t *testing.T) {
	c, dev := newTestChannel(t)
	c.Open()

	l, err := c.Acquire("generator")
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if _, err := c.Acquire("manual"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if c.Holder() != "generator" {
		t.Fatalf("unexpected holder %q", c.Holder())
	}

	_ = l.Setup(100, 10)
	writes := dev.Writes()

	l.Release()
	l.Release()
	if l.IsOpen() {
		t.Fatalf("released lease should report closed")
	}
	_ = l.Setup(200, 10)
	l.Reset()
	if dev.Writes() != writes {
		t.Fatalf("released lease reached the device")
	}

	l2, err := c.Acquire("manual")
	if err != nil {
		t.Fatalf("Acquire after release returned error: %v", err)
	}
	if !l2.IsOpen() || l.Held() {
		t.Fatalf("new lease should be the only one held")
	}
}
