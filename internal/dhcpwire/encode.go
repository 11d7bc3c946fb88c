package dhcpwire

import "github.com/flandhcp/staticdhcpd/internal/dhcpopt"

// Encode serialises a Packet to its canonical wire form (§4.B "Encode"):
// the 240-byte fixed header, the magic cookie, options in ascending code
// order (splitting any payload over 255 bytes into repeated TLV chunks of
// the same code), the 255 terminator, then zero-padding to at least 300
// bytes total.
func Encode(p *Packet) []byte {
	buf := make([]byte, headerLen, minTotalLen)
	buf[0] = p.Op
	buf[1] = p.HType
	buf[2] = p.HLen
	buf[3] = p.Hops
	putBE32(buf[4:8], p.XID)
	putBE16(buf[8:10], p.Secs)
	putBE16(buf[10:12], p.Flags)

	ciaddr := p.CIAddr.Bytes()
	copy(buf[12:16], ciaddr[:])
	yiaddr := p.YIAddr.Bytes()
	copy(buf[16:20], yiaddr[:])
	siaddr := p.SIAddr.Bytes()
	copy(buf[20:24], siaddr[:])
	giaddr := p.GIAddr.Bytes()
	copy(buf[24:28], giaddr[:])

	copy(buf[28:28+chaddrLen], p.CHAddr[:])
	copy(buf[28+chaddrLen:28+chaddrLen+snameLen], p.SName[:])
	copy(buf[28+chaddrLen+snameLen:headerLen], p.File[:])

	copy(buf[cookieOffset:headerLen], magicCookie[:])

	for _, code := range sortedOptionCodes(p.Options) {
		buf = appendOptionTLV(buf, code, dhcpopt.Encode(p.Options[code]))
	}
	buf = append(buf, 255)

	for len(buf) < minTotalLen {
		buf = append(buf, 0)
	}
	return buf
}

// appendOptionTLV emits one option's payload as one or more 255-byte-max
// TLV chunks sharing the same code (§4.B "Encode").
func appendOptionTLV(buf []byte, code byte, payload []byte) []byte {
	if len(payload) == 0 {
		return append(buf, code, 0)
	}
	for len(payload) > 0 {
		chunk := payload
		if len(chunk) > 255 {
			chunk = chunk[:255]
		}
		buf = append(buf, code, byte(len(chunk)))
		buf = append(buf, chunk...)
		payload = payload[len(chunk):]
	}
	return buf
}

func putBE16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
