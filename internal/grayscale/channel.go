// Package grayscale reads the three-channel grayscale module through the
// HAT's ADC.
package grayscale

import (
	"strconv"
	"strings"

	"codeberg.org/mutker/picarctl/internal/errors"
	"periph.io/x/conn/v3/i2c"
)

const (
	// MaxChannel is the highest ADC input on the HAT.
	MaxChannel = 7
	// MaxValue is the largest value a 16-bit conversion can report.
	MaxValue = 0xFFFF

	channelFlag = 0x10
)

// DefaultAddresses are the ADC bus addresses in probe order. Boards answer on
// one or the other depending on the firmware revision.
var DefaultAddresses = []uint16{0x14, 0x15}

// Transactor runs a sequence of transfers with exclusive use of the bus.
type Transactor interface {
	Do(fn func(b i2c.Bus) error) error
}

// Channel is one ADC input.
type Channel struct {
	bus   Transactor
	addr  uint16
	index int
	reg   byte
}

// ParseChannel accepts "A0".."A7" or a bare index.
func ParseChannel(name string) (int, error) {
	errFactory := errors.New()

	s := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "A")
	index, err := strconv.Atoi(s)
	if err != nil || index < 0 || index > MaxChannel {
		return 0, errFactory.WithData(errors.ErrInvalidConfig, "ADC channel should be between A0 and A7, not "+strconv.Quote(name))
	}

	return index, nil
}

// NewChannel probes candidates in order and binds the channel to the first
// address that answers. The probe runs once; the address is not re-checked
// on later reads.
func NewChannel(b Transactor, index int, candidates []uint16) (*Channel, error) {
	errFactory := errors.New()

	if index < 0 || index > MaxChannel {
		return nil, errFactory.WithData(errors.ErrInvalidConfig, struct {
			Channel int
		}{
			Channel: index,
		})
	}
	if len(candidates) == 0 {
		candidates = DefaultAddresses
	}

	c := &Channel{
		bus:   b,
		index: index,
		reg:   byte(MaxChannel-index) | channelFlag,
	}

	var probeErrs []error
	for _, addr := range candidates {
		err := b.Do(func(bus i2c.Bus) error {
			return probe(bus, addr)
		})
		if err == nil {
			c.addr = addr
			return c, nil
		}
		probeErrs = append(probeErrs, err)
	}

	return nil, errFactory.Wrap(errors.ErrDeviceNotFound, errors.Join(probeErrs...))
}

// probe issues a one-byte read; a device that ACKs its address answers it.
func probe(b i2c.Bus, addr uint16) error {
	return b.Tx(addr, nil, make([]byte, 1))
}

// Addr returns the bus address adopted at construction.
func (c *Channel) Addr() uint16 {
	return c.addr
}

// Index returns the ADC input number.
func (c *Channel) Index() int {
	return c.index
}

// Read samples the channel: one register select write followed by two
// single-byte reads (high, then low). No retries.
func (c *Channel) Read() (int, error) {
	var high, low [1]byte

	err := c.bus.Do(func(b i2c.Bus) error {
		if err := b.Tx(c.addr, []byte{c.reg, 0, 0}, nil); err != nil {
			return err
		}
		if err := b.Tx(c.addr, nil, high[:]); err != nil {
			return err
		}
		return b.Tx(c.addr, nil, low[:])
	})
	if err != nil {
		return 0, errors.New().WithData(errors.ErrBusIO, struct {
			Channel int
			Addr    uint16
			Error   string
		}{
			Channel: c.index,
			Addr:    c.addr,
			Error:   err.Error(),
		})
	}

	return int(high[0])<<8 | int(low[0]), nil
}
