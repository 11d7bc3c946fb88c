package dhcpwire

import (
	"net"

	"github.com/flandhcp/staticdhcpd/internal/addr"
	"github.com/flandhcp/staticdhcpd/internal/dhcpopt"
)

const (
	overloadCode    = 52
	overloadFile    = 0x1
	overloadSName   = 0x2
)

// Decode parses a raw UDP payload into a Packet (§4.B "Decode"). Framing
// errors (too short, bad magic, a truncated TLV) abort the parse; a
// type-level decode failure on an otherwise well-framed option does not —
// the option survives as a RawValue and the failure is appended to
// Packet.Warnings.
func Decode(data []byte, source net.Addr, pxe bool) (*Packet, error) {
	if len(data) < headerLen {
		return nil, ErrPacketTooShort
	}
	var cookie [4]byte
	copy(cookie[:], data[cookieOffset:cookieOffset+4])
	if cookie != magicCookie {
		return nil, ErrBadMagic
	}

	p := &Packet{
		Op:      data[0],
		HType:   data[1],
		HLen:    data[2],
		Hops:    data[3],
		XID:     be32(data[4:8]),
		Secs:    be16(data[8:10]),
		Flags:   be16(data[10:12]),
		Options: make(map[byte]dhcpopt.OptionValue),

		SourceAddr: source,
		PXE:        pxe,
	}
	var err error
	if p.CIAddr, err = addr.IPv4FromBytes(data[12:16]); err != nil {
		return nil, err
	}
	if p.YIAddr, err = addr.IPv4FromBytes(data[16:20]); err != nil {
		return nil, err
	}
	if p.SIAddr, err = addr.IPv4FromBytes(data[20:24]); err != nil {
		return nil, err
	}
	if p.GIAddr, err = addr.IPv4FromBytes(data[24:28]); err != nil {
		return nil, err
	}
	copy(p.CHAddr[:], data[28:28+chaddrLen])
	copy(p.SName[:], data[28+chaddrLen:28+chaddrLen+snameLen])
	copy(p.File[:], data[28+chaddrLen+snameLen:headerLen])

	if p.HType == 1 && p.HLen != 0 && p.HLen != 6 {
		return nil, ErrUnknownHardwareType
	}

	raw, err := walkOptionsTLV(data[headerLen:])
	if err != nil {
		return nil, err
	}

	if overloadBytes, ok := raw[overloadCode]; ok && len(overloadBytes) >= 1 {
		flag := overloadBytes[0]
		if flag&overloadFile != 0 {
			fileRaw, err := walkOptionsTLV(p.File[:])
			if err != nil {
				return nil, err
			}
			mergeRaw(raw, fileRaw)
		}
		if flag&overloadSName != 0 {
			snameRaw, err := walkOptionsTLV(p.SName[:])
			if err != nil {
				return nil, err
			}
			mergeRaw(raw, snameRaw)
		}
	}

	for code, payload := range raw {
		def, ok := dhcpopt.ByCode(code)
		if !ok {
			p.Options[code] = dhcpopt.RawValue{KindHint: dhcpopt.KindUnassigned, Data: payload}
			continue
		}
		v, decodeErr := dhcpopt.Decode(def, payload)
		if decodeErr != nil {
			p.Options[code] = dhcpopt.RawValue{KindHint: def.Kind, Data: payload}
			p.Warnings = append(p.Warnings, decodeErr)
			continue
		}
		p.Options[code] = v
	}

	return p, nil
}

// walkOptionsTLV reads a code/length/value stream (§4.B step 3), stopping
// at option 255, skipping option-0 pads, and concatenating the payloads of
// repeated codes per RFC 3396 (the DESIGN NOTES §9 resolution of the
// source's inconsistent behaviour).
func walkOptionsTLV(data []byte) (map[byte][]byte, error) {
	raw := make(map[byte][]byte)
	i := 0
	for i < len(data) {
		code := data[i]
		if code == 0 {
			i++
			continue
		}
		if code == 255 {
			break
		}
		if i+1 >= len(data) {
			return nil, truncatedOptionErr(code)
		}
		length := int(data[i+1])
		start := i + 2
		end := start + length
		if end > len(data) {
			return nil, truncatedOptionErr(code)
		}
		raw[code] = append(raw[code], data[start:end]...)
		i = end
	}
	return raw, nil
}

func mergeRaw(dst, src map[byte][]byte) {
	for code, payload := range src {
		dst[code] = append(dst[code], payload...)
	}
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
