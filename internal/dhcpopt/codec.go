package dhcpopt

import (
	"fmt"

	"github.com/flandhcp/staticdhcpd/internal/addr"
)

// Decode dispatches a concatenated option payload (duplicates of the same
// code already merged per RFC 3396, see the packet codec) to its
// type-specific decoder. An error here never aborts the packet parse: the
// caller retains the bytes as a RawValue and logs the anomaly (§4.B step 5).
func Decode(def OptionDef, data []byte) (OptionValue, error) {
	if err := def.ValidateLength(len(data)); err != nil {
		return nil, err
	}
	switch def.Kind {
	case KindPad, KindEnd:
		return RawValue{KindHint: def.Kind}, nil
	case KindBool:
		return BoolValue(data[0] != 0), nil
	case KindByte:
		return ByteValue(data[0]), nil
	case KindBytes:
		return BytesValue(append([]byte(nil), data...)), nil
	case KindIdentifier:
		return IdentifierValue(append([]byte(nil), data...)), nil
	case KindString:
		return StringValue(data), nil
	case KindU16:
		return U16Value(uint16(data[0])<<8 | uint16(data[1])), nil
	case KindU16Plus:
		vals := make(U16ListValue, 0, len(data)/2)
		for i := 0; i < len(data); i += 2 {
			vals = append(vals, uint16(data[i])<<8|uint16(data[i+1]))
		}
		return vals, nil
	case KindU32:
		return U32Value(uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])), nil
	case KindU32Plus:
		vals := make(U32ListValue, 0, len(data)/4)
		for i := 0; i < len(data); i += 4 {
			vals = append(vals, uint32(data[i])<<24|uint32(data[i+1])<<16|uint32(data[i+2])<<8|uint32(data[i+3]))
		}
		return vals, nil
	case KindIPv4:
		ip, err := addr.IPv4FromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOptionValue, err)
		}
		return IPv4Value(ip), nil
	case KindIPv4Plus:
		ips := make(IPv4ListValue, 0, len(data)/4)
		for i := 0; i < len(data); i += 4 {
			ip, err := addr.IPv4FromBytes(data[i : i+4])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidOptionValue, err)
			}
			ips = append(ips, ip)
		}
		return ips, nil
	case KindIPv4Mult:
		pairs := make(IPv4PairListValue, 0, len(data)/8)
		for i := 0; i < len(data); i += 8 {
			address, err := addr.IPv4FromBytes(data[i : i+4])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidOptionValue, err)
			}
			mask, err := addr.IPv4FromBytes(data[i+4 : i+8])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidOptionValue, err)
			}
			pairs = append(pairs, IPv4PairValue{Address: address, Mask: mask})
		}
		return pairs, nil
	case KindRFC2610_78, KindRFC2610_79:
		return decodeRFC2610(def.Kind, data)
	case KindRFC3361_120:
		return decodeRFC3361(data)
	case KindRFC3397_119, KindRFC4280_88, KindRFC5223_137:
		return decodeDomainList(def.Kind, data)
	case KindRFC3442_121:
		return decodeRFC3442(data)
	case KindRFC3925_124:
		return decodeRFC3925_124(data)
	case KindRFC3925_125:
		return decodeRFC3925_125(data)
	case KindRFC4174_83:
		return decodeRFC4174(data)
	case KindRFC5678_139:
		return decodeRFC5678_139(data)
	case KindRFC5678_140:
		return decodeRFC5678_140(data)
	default:
		return RawValue{KindHint: def.Kind, Data: append([]byte(nil), data...)}, nil
	}
}

// Encode is the mirror of Decode: it produces the wire payload for a
// decoded OptionValue. Every OptionValue variant implements Encode
// directly; this wrapper exists so callers that only have an OptionDef and
// OptionValue in hand (the packet encoder) have one call site.
func Encode(v OptionValue) []byte {
	return v.Encode()
}
