package itm

import "fmt"

// DefaultResyncReportLimit bounds how many bytes the framer discards while
// searching for a sync marker before it reports them.
const DefaultResyncReportLimit = 1024

// Config represents ITM stream configuration.
// RegTCR mirrors the ITM trace control register of the target so the local
// timestamp prescaler can be applied on the host.
type Config struct {
	RegTCR uint32 // TS prescaler [9:8], SWOENA [4]

	// AssumeSynced starts the framer in the synchronised state, for debug
	// adapters that never emit an initial sync packet.
	AssumeSynced bool

	// ResyncReportLimit is the lookahead bound used while resynchronising.
	ResyncReportLimit int
}

// NewConfig creates a default configuration
func NewConfig() *Config {
	return &Config{ResyncReportLimit: DefaultResyncReportLimit}
}

// TSPrescaleValue gets the prescaler for the local ts clock.
func (c *Config) TSPrescaleValue() uint32 {
	prescaleVals := []uint32{1, 4, 16, 64}
	preScaleIdx := 0

	// prescaler is used with TPIU clock - SWOENA = 1b1 - bit[4]
	if (c.RegTCR & 0x10) != 0 {
		preScaleIdx = int((c.RegTCR >> 8) & 0x3)
	}
	return prescaleVals[preScaleIdx]
}

// SetTSPrescale programs the prescaler divider (1, 4, 16 or 64).
func (c *Config) SetTSPrescale(div uint32) error {
	var idx uint32
	switch div {
	case 1:
		idx = 0
	case 4:
		idx = 1
	case 16:
		idx = 2
	case 64:
		idx = 3
	default:
		return fmt.Errorf("invalid timestamp prescaler %d: want 1, 4, 16 or 64", div)
	}
	c.RegTCR &^= 0x310
	if idx != 0 {
		c.RegTCR |= 0x10 | (idx << 8)
	}
	return nil
}

func (c *Config) resyncLimit() int {
	if c == nil || c.ResyncReportLimit <= 0 {
		return DefaultResyncReportLimit
	}
	return c.ResyncReportLimit
}
