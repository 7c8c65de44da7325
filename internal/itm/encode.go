package itm

import "fmt"

// AppendPacket appends the wire encoding of pkt to dst. It is the inverse of
// Framer.Next for well formed packets.
func AppendPacket(dst []byte, pkt Packet) ([]byte, error) {
	switch pkt.Type {
	case PktAsync:
		return append(dst, 0x00, 0x00, 0x00, 0x00, 0x00, asyncEnd), nil

	case PktOverflow:
		return append(dst, 0x70), nil

	case PktSWIT, PktDWT:
		code, err := stimSizeCode(pkt.ValSz)
		if err != nil {
			return dst, err
		}
		hdr := ((pkt.SrcID & 0x1F) << 3) | code
		if pkt.Type == PktDWT {
			hdr |= 0x04
		}
		dst = append(dst, hdr)
		for i := 0; i < int(pkt.ValSz); i++ {
			dst = append(dst, byte(pkt.Value>>(8*i)))
		}
		return dst, nil

	case PktTSLocal:
		if pkt.ValSz == 0 {
			// 0 and 7 would collide with the sync and overflow headers
			if pkt.Value == 0 || pkt.Value > 6 {
				return dst, fmt.Errorf("itm: single byte local timestamp value %d out of range 1..6", pkt.Value)
			}
			return append(dst, byte(pkt.Value<<4)), nil
		}
		if pkt.ValSz > 4 {
			return dst, fmt.Errorf("itm: local timestamp size %d exceeds 4", pkt.ValSz)
		}
		dst = append(dst, 0xC0|(pkt.TimingControl()<<4))
		return appendContVal(dst, uint64(pkt.Value), pkt.ValSz), nil

	case PktTSGlobal1:
		if pkt.ValSz == 0 || pkt.ValSz > 4 {
			return dst, fmt.Errorf("itm: GTS1 size %d out of range 1..4", pkt.ValSz)
		}
		dst = append(dst, 0x94)
		dst = appendContVal(dst, uint64(pkt.Value), pkt.ValSz)
		if pkt.ValSz == 4 {
			dst[len(dst)-1] |= (pkt.SrcID & 0x3) << 5
		}
		return dst, nil

	case PktTSGlobal2:
		if pkt.ValSz == 0 || pkt.ValSz > 6 {
			return dst, fmt.Errorf("itm: GTS2 size %d out of range 1..6", pkt.ValSz)
		}
		dst = append(dst, 0xB4)
		return appendContVal(dst, pkt.GetExtValue(), pkt.ValSz), nil

	case PktExtension:
		hdr := byte(0x08) | byte(pkt.Value&0x7)<<4
		if (pkt.SrcID & extSrcHWFlag) != 0 {
			hdr |= 0x04
		}
		if pkt.ValSz == 0 {
			return append(dst, hdr), nil
		}
		if pkt.ValSz > 4 {
			return dst, fmt.Errorf("itm: extension size %d exceeds 4", pkt.ValSz)
		}
		dst = append(dst, hdr|0x80)
		return appendContVal(dst, uint64(pkt.Value>>3), pkt.ValSz), nil
	}
	return dst, fmt.Errorf("itm: cannot encode packet type %d", pkt.Type)
}

// AppendStimulus splits data into instrumentation packets on channel, using
// 4 byte payloads where possible.
func AppendStimulus(dst []byte, channel uint8, data []byte) []byte {
	for len(data) > 0 {
		n := 4
		switch {
		case len(data) >= 4:
		case len(data) >= 2:
			n = 2
		default:
			n = 1
		}
		var value uint32
		for i := 0; i < n; i++ {
			value |= uint32(data[i]) << (8 * i)
		}
		dst, _ = AppendPacket(dst, Packet{Type: PktSWIT, SrcID: channel, Value: value, ValSz: uint8(n)})
		data = data[n:]
	}
	return dst
}

func stimSizeCode(size uint8) (byte, error) {
	switch size {
	case 1:
		return 0x1, nil
	case 2:
		return 0x2, nil
	case 4:
		return 0x3, nil
	}
	return 0, fmt.Errorf("itm: stimulus payload size %d not 1, 2 or 4", size)
}

func appendContVal(dst []byte, val uint64, numBytes uint8) []byte {
	for i := uint8(0); i < numBytes-1; i++ {
		dst = append(dst, byte((val&0x7F)|0x80))
		val >>= 7
	}
	return append(dst, byte(val&0x7F))
}
