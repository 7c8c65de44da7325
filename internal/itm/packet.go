package itm

import (
	"fmt"

	"defmtitm/internal/ocsd"
)

// PktType represents the ITM packet type.
type PktType int

const (
	PktNotSync   PktType = iota /**< Not synchronised (zero value) */
	PktAsync                    /**< sync packet */
	PktOverflow                 /**< overflow packet */
	PktSWIT                     /**< Software stimulus (instrumentation) packet */
	PktDWT                      /**< DWT hardware stimulus packet */
	PktTSLocal                  /**< Timestamp packet using local timestamp source */
	PktTSGlobal1                /**< Timestamp packet bits [25:0] from the global timestamp source */
	PktTSGlobal2                /**< Timestamp packet bits [63:26] or [47:26] from the global timestamp source */
	PktExtension                /**< Extension packet */
)

// DwtEcntr represents DWT hardware event counters.
type DwtEcntr uint8

const (
	DwtEcntrCPI DwtEcntr = 0x01
	DwtEcntrEXC DwtEcntr = 0x02
	DwtEcntrSLP DwtEcntr = 0x04
	DwtEcntrLSU DwtEcntr = 0x08
	DwtEcntrFLD DwtEcntr = 0x10
	DwtEcntrCYC DwtEcntr = 0x20
)

// Local timestamp timing control values.
const (
	TCSync       uint8 = 0 // timestamp synchronous to the data
	TCDelay      uint8 = 1 // timestamp delayed relative to the data
	TCPktDelay   uint8 = 2 // packet delayed relative to the event
	TCPktTSDelay uint8 = 3 // both delayed
)

const (
	extSrcHWFlag   uint8 = 0x80
	maxStimPayload       = 4
)

// Packet represents one framed ITM packet.
type Packet struct {
	Type  PktType
	Index ocsd.TrcIndex // stream offset of the header byte
	/**! Source ID uses:
		 - SWIT: stimulus channel [4:0],
	     - DWT: value of discriminator [4:0],
		 - LTS: TC flags for Local TS pkt [1:0],
		 - GTS1: clk wrap [1] / freq change [0] bits,
		 - Ext: Src SW(0)/HW(0x80),
	*/
	SrcID  uint8
	Value  uint32 // packet data payload - interpretation depends on type
	ValSz  uint8  // payload byte count; 0 for values carried in the header
	ValExt uint8  // bits [39:32] of a GTS2 value
}

// Channel returns the stimulus channel of an instrumentation packet.
func (p *Packet) Channel() uint8 {
	return p.SrcID & 0x1F
}

// Payload returns the stimulus payload bytes in wire (little endian) order.
func (p *Packet) Payload() []byte {
	n := int(p.ValSz)
	if n > maxStimPayload {
		n = maxStimPayload
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = byte(p.Value >> (8 * i))
	}
	return out
}

// TimingControl returns the TC field of a local timestamp.
func (p *Packet) TimingControl() uint8 {
	return p.SrcID & 0x3
}

// SetExtValue sets a value wider than 32 bits.
func (p *Packet) SetExtValue(extVal uint64) {
	p.Value = uint32(extVal & 0xFFFFFFFF)
	p.ValExt = uint8(extVal >> 32)
}

// GetExtValue gets the extended value.
func (p *Packet) GetExtValue() uint64 {
	return uint64(p.Value) | (uint64(p.ValExt) << 32)
}

// String provides a string representation of the packet.
func (p *Packet) String() string {
	name, desc := p.typeNameAndDesc()
	str := fmt.Sprintf("%s:%s", name, desc)

	switch p.Type {
	case PktSWIT:
		str += fmt.Sprintf("; %v; Chan 0x%02X; Data 0x%08X", p.valSizeStr(), p.Channel(), p.Value)
	case PktDWT:
		str += fmt.Sprintf("; %s", p.dwtPacketStr())
	case PktTSLocal:
		str += fmt.Sprintf("; %s", p.tsLocalPacketStr())
	case PktTSGlobal1:
		str += fmt.Sprintf("; TS 25:0  0x%07X", p.Value)
	case PktTSGlobal2:
		str += fmt.Sprintf("; TS 63:26 0x%010X", p.GetExtValue())
	case PktExtension:
		src := "SW"
		if (p.SrcID & extSrcHWFlag) != 0 {
			src = "HW"
		}
		str += fmt.Sprintf("; Src %s; Val 0x%08X", src, p.Value)
	}
	return str
}

func (p *Packet) typeNameAndDesc() (string, string) {
	switch p.Type {
	case PktNotSync:
		return "NOTSYNC", "ITM not synchronised"
	case PktAsync:
		return "ASYNC", "Alignment synchronisation packet"
	case PktOverflow:
		return "OVERFLOW", "Overflow packet"
	case PktSWIT:
		return "SWIT", "Software stimulus packet"
	case PktDWT:
		return "DWT", "Hardware stimulus packet"
	case PktTSLocal:
		return "TS_L", "Local timestamp packet"
	case PktTSGlobal1:
		return "TS_G1", "Global timestamp packet 1"
	case PktTSGlobal2:
		return "TS_G2", "Global timestamp packet 2"
	case PktExtension:
		return "EXTENSION", "Extension packet"
	default:
		return "UNKNOWN", "Unknown Packet Type"
	}
}

func (p *Packet) valSizeStr() string {
	switch p.ValSz {
	case 1:
		return "8 bit"
	case 2:
		return "16 bit"
	case 4:
		return "32 bit"
	default:
		return "Unsized"
	}
}

func (p *Packet) dwtPacketStr() string {
	str := p.valSizeStr()
	desc := ""

	if p.SrcID == 0 { // Event packet
		desc = "Event"
		val := p.Value
		for _, ev := range []struct {
			bit  DwtEcntr
			name string
		}{
			{DwtEcntrCPI, " CPI;"},
			{DwtEcntrEXC, " EXC;"},
			{DwtEcntrSLP, " SLP;"},
			{DwtEcntrLSU, " LSU;"},
			{DwtEcntrFLD, " FLD;"},
			{DwtEcntrCYC, " CYC;"},
		} {
			if (val & uint32(ev.bit)) != 0 {
				str += ev.name
			}
		}
	} else if p.SrcID == 1 { // Exception Trace
		desc = "Exception"
		str += fmt.Sprintf("; Exception Num %03d", p.Value&0x1FF)
		switch (p.Value >> 12) & 0x3 {
		case 1:
			str += " Entered"
		case 2:
			str += " Exited"
		case 3:
			str += " Returned"
		}
	} else if p.SrcID == 2 { // PC sample
		desc = "PC Sample"
		str += fmt.Sprintf("; PC = 0x%08X", p.Value)
	} else if p.SrcID >= 8 && p.SrcID <= 23 { // Data trace
		desc = "Data Trace"
		str += fmt.Sprintf("; Cmp %d; Data = 0x%08X", (p.SrcID>>1)&0x3, p.Value)
	} else {
		desc = "Unknown"
		str += fmt.Sprintf("; ID = 0x%02X; Data = 0x%08X", p.SrcID, p.Value)
	}

	return fmt.Sprintf("%s : %s", desc, str)
}

func (p *Packet) tsLocalPacketStr() string {
	tcDescs := []string{
		"TS Sync",
		"TS Delay",
		"TS Async",
		"TS delayed - async",
	}
	return fmt.Sprintf("TC %s; TS = 0x%07X", tcDescs[p.TimingControl()], p.Value)
}
