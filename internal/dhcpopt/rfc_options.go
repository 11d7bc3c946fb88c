package dhcpopt

import (
	"errors"
	"fmt"

	"github.com/flandhcp/staticdhcpd/internal/addr"
)

// ErrInvalidOptionValue is wrapped by every RFC-specific encode/decode
// failure below; callers that only care about the taxonomy kind (§7,
// PacketError) can match on it with errors.Is.
var ErrInvalidOptionValue = errors.New("dhcpopt: invalid option value")

// domainLabelsEncode implements the RFC1035-plus label sequence shared by
// options 119 (RFC3397_119), 88, 137, and the DNS-name
// branch of 120: each domain is "len, bytes..." per label, terminated by a
// zero-length label, with successive domains concatenated. Ported from
// libpydhcpserver's _rfc1035Parse/rfc1035_plus.
func domainLabelsEncode(domain string) []byte {
	var out []byte
	start := 0
	for i := 0; i <= len(domain); i++ {
		if i == len(domain) || domain[i] == '.' {
			label := domain[start:i]
			if len(label) > 0 {
				out = append(out, byte(len(label)))
				out = append(out, label...)
			}
			start = i + 1
		}
	}
	out = append(out, 0)
	return out
}

func domainListEncode(domains []string) []byte {
	var out []byte
	for _, d := range domains {
		out = append(out, domainLabelsEncode(d)...)
	}
	return out
}

// domainListDecode is the mirror of domainListEncode: it walks the buffer
// as a sequence of independent names, each terminated either by a
// zero-length label or by a compression pointer (RFC 1035 §4.1.4), which
// the codec never emits on encode but must follow on decode per §4.A.1.
func domainListDecode(data []byte) ([]string, error) {
	var domains []string
	i := 0
	for i < len(data) {
		name, consumed, err := decodeOneName(data, i, 0)
		if err != nil {
			return nil, err
		}
		domains = append(domains, name)
		i += consumed
	}
	return domains, nil
}

// decodeOneName reads a single dotted name starting at data[start],
// following at most one level of compression-pointer indirection per hop
// to guard against pointer loops; depth counts hops already followed.
func decodeOneName(data []byte, start int, depth int) (name string, consumed int, err error) {
	if depth > 16 {
		return "", 0, fmt.Errorf("%w: compression pointer chain too deep", ErrInvalidOptionValue)
	}
	var labels []string
	i := start
	for {
		if i >= len(data) {
			return "", 0, fmt.Errorf("%w: unterminated domain name", ErrInvalidOptionValue)
		}
		length := data[i]
		if length == 0 {
			i++
			break
		}
		if length&0xc0 == 0xc0 {
			if i+1 >= len(data) {
				return "", 0, fmt.Errorf("%w: truncated compression pointer", ErrInvalidOptionValue)
			}
			ptr := int(length&0x3f)<<8 | int(data[i+1])
			if ptr >= len(data) {
				return "", 0, fmt.Errorf("%w: compression pointer out of range", ErrInvalidOptionValue)
			}
			suffix, _, err := decodeOneName(data, ptr, depth+1)
			if err != nil {
				return "", 0, err
			}
			if suffix != "" {
				labels = append(labels, suffix)
			}
			i += 2
			break
		}
		i++
		if i+int(length) > len(data) {
			return "", 0, fmt.Errorf("%w: label length %d exceeds remaining data", ErrInvalidOptionValue, length)
		}
		labels = append(labels, string(data[i:i+int(length)]))
		i += int(length)
	}
	return joinLabels(labels), i - start, nil
}

func joinLabels(labels []string) string {
	out := ""
	for i, l := range labels {
		if i > 0 {
			out += "."
		}
		out += l
	}
	return out
}

// RFC3397Value holds a domain list (Domain Search, option 119, and the
// shared RFC1035-plus encoding used by 88/137).
type RFC3397Value struct {
	Kind_   TypeKind
	Domains []string
}

func (v RFC3397Value) Kind() TypeKind { return v.Kind_ }
func (v RFC3397Value) Encode() []byte { return domainListEncode(v.Domains) }

func decodeDomainList(kind TypeKind, data []byte) (OptionValue, error) {
	domains, err := domainListDecode(data)
	if err != nil {
		return nil, err
	}
	return RFC3397Value{Kind_: kind, Domains: domains}, nil
}

// RFC3361Value (SIP Servers, option 120): leading mode byte 0 selects
// RFC1035-encoded names, 1 selects IPv4 addresses. Mixing modes in one
// option is an encode-time error, ported from rfc3361_120's ip_4_mode /
// dns_mode bookkeeping.
type RFC3361Value struct {
	IsIPv4Mode bool
	Names      []string
	IPs        []addr.IPv4
}

func (v RFC3361Value) Kind() TypeKind { return KindRFC3361_120 }

func (v RFC3361Value) Encode() []byte {
	out := make([]byte, 0, 1+len(v.IPs)*4)
	if v.IsIPv4Mode {
		out = append(out, 1)
		for _, ip := range v.IPs {
			b := ip.Bytes()
			out = append(out, b[:]...)
		}
		return out
	}
	out = append(out, 0)
	out = append(out, domainListEncode(v.Names)...)
	return out
}

func decodeRFC3361(data []byte) (OptionValue, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: rfc3361-120 requires a leading mode byte", ErrInvalidOptionValue)
	}
	mode, body := data[0], data[1:]
	switch mode {
	case 1:
		if len(body)%4 != 0 {
			return nil, fmt.Errorf("%w: rfc3361-120 IPv4 mode length %d not multiple of 4", ErrInvalidOptionValue, len(body))
		}
		ips := make([]addr.IPv4, 0, len(body)/4)
		for i := 0; i < len(body); i += 4 {
			ip, err := addr.IPv4FromBytes(body[i : i+4])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidOptionValue, err)
			}
			ips = append(ips, ip)
		}
		return RFC3361Value{IsIPv4Mode: true, IPs: ips}, nil
	case 0:
		names, err := domainListDecode(body)
		if err != nil {
			return nil, err
		}
		return RFC3361Value{IsIPv4Mode: false, Names: names}, nil
	default:
		return nil, fmt.Errorf("%w: rfc3361-120 mode byte must be 0 or 1, got %d", ErrInvalidOptionValue, mode)
	}
}

// RFC3442Value (Classless Static Route, option 121): a sequence of
// (prefix_len, significant destination octets, gateway:4). The number of
// significant destination octets is ceil(prefix_len/8).
type RFC3442Route struct {
	PrefixLen   int
	Destination addr.IPv4
	Gateway     addr.IPv4
}

type RFC3442Value []RFC3442Route

func (v RFC3442Value) Kind() TypeKind { return KindRFC3442_121 }

func significantOctets(prefixLen int) int {
	return (prefixLen + 7) / 8
}

func (v RFC3442Value) Encode() []byte {
	var out []byte
	for _, r := range v {
		n := significantOctets(r.PrefixLen)
		dest := r.Destination.Bytes()
		out = append(out, byte(r.PrefixLen))
		out = append(out, dest[:n]...)
		gw := r.Gateway.Bytes()
		out = append(out, gw[:]...)
	}
	return out
}

func decodeRFC3442(data []byte) (OptionValue, error) {
	var routes RFC3442Value
	i := 0
	for i < len(data) {
		prefixLen := int(data[i])
		if prefixLen > 32 {
			return nil, fmt.Errorf("%w: rfc3442-121 prefix length %d > 32", ErrInvalidOptionValue, prefixLen)
		}
		i++
		n := significantOctets(prefixLen)
		if i+n+4 > len(data) {
			return nil, fmt.Errorf("%w: rfc3442-121 truncated route", ErrInvalidOptionValue)
		}
		var destBytes [4]byte
		copy(destBytes[:], data[i:i+n])
		i += n
		dest, _ := addr.IPv4FromBytes(destBytes[:])
		gw, err := addr.IPv4FromBytes(data[i : i+4])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOptionValue, err)
		}
		i += 4
		routes = append(routes, RFC3442Route{PrefixLen: prefixLen, Destination: dest, Gateway: gw})
	}
	return routes, nil
}

// RFC3925Value124 (option 124, Vendor-Identifying Vendor Class): sequence
// of (enterprise_number:u32_be, len:u8, opaque_data[len]).
type VendorClass124 struct {
	EnterpriseNumber uint32
	Data             []byte
}

type RFC3925Value124 []VendorClass124

func (v RFC3925Value124) Kind() TypeKind { return KindRFC3925_124 }

func (v RFC3925Value124) Encode() []byte {
	var out []byte
	for _, c := range v {
		en := c.EnterpriseNumber
		out = append(out, byte(en>>24), byte(en>>16), byte(en>>8), byte(en))
		out = append(out, byte(len(c.Data)))
		out = append(out, c.Data...)
	}
	return out
}

func decodeRFC3925_124(data []byte) (OptionValue, error) {
	var classes RFC3925Value124
	i := 0
	for i < len(data) {
		if i+5 > len(data) {
			return nil, fmt.Errorf("%w: rfc3925-124 truncated entry header", ErrInvalidOptionValue)
		}
		en := uint32(data[i])<<24 | uint32(data[i+1])<<16 | uint32(data[i+2])<<8 | uint32(data[i+3])
		length := int(data[i+4])
		i += 5
		if i+length > len(data) {
			return nil, fmt.Errorf("%w: rfc3925-124 truncated payload", ErrInvalidOptionValue)
		}
		classes = append(classes, VendorClass124{EnterpriseNumber: en, Data: append([]byte(nil), data[i:i+length]...)})
		i += length
	}
	return classes, nil
}

// RFC3925Value125 (option 125, Vendor-Identifying Vendor-Specific Info):
// sequence of (enterprise_number:u32_be, total_len:u8, then pairs
// (subopt_code:u8, sublen:u8, data[sublen]) filling that total).
type VendorSubopt125 struct {
	Code byte
	Data []byte
}

type VendorInfo125 struct {
	EnterpriseNumber uint32
	Subopts          []VendorSubopt125
}

type RFC3925Value125 []VendorInfo125

func (v RFC3925Value125) Kind() TypeKind { return KindRFC3925_125 }

func (v RFC3925Value125) Encode() []byte {
	var out []byte
	for _, info := range v {
		var sub []byte
		for _, s := range info.Subopts {
			sub = append(sub, s.Code, byte(len(s.Data)))
			sub = append(sub, s.Data...)
		}
		en := info.EnterpriseNumber
		out = append(out, byte(en>>24), byte(en>>16), byte(en>>8), byte(en))
		out = append(out, byte(len(sub)))
		out = append(out, sub...)
	}
	return out
}

func decodeRFC3925_125(data []byte) (OptionValue, error) {
	var infos RFC3925Value125
	i := 0
	for i < len(data) {
		if i+5 > len(data) {
			return nil, fmt.Errorf("%w: rfc3925-125 truncated entry header", ErrInvalidOptionValue)
		}
		en := uint32(data[i])<<24 | uint32(data[i+1])<<16 | uint32(data[i+2])<<8 | uint32(data[i+3])
		totalLen := int(data[i+4])
		i += 5
		if i+totalLen > len(data) {
			return nil, fmt.Errorf("%w: rfc3925-125 truncated payload", ErrInvalidOptionValue)
		}
		sub := data[i : i+totalLen]
		i += totalLen

		var subopts []VendorSubopt125
		j := 0
		for j < len(sub) {
			if j+2 > len(sub) {
				return nil, fmt.Errorf("%w: rfc3925-125 truncated sub-option header", ErrInvalidOptionValue)
			}
			code := sub[j]
			slen := int(sub[j+1])
			j += 2
			if j+slen > len(sub) {
				return nil, fmt.Errorf("%w: rfc3925-125 truncated sub-option payload", ErrInvalidOptionValue)
			}
			subopts = append(subopts, VendorSubopt125{Code: code, Data: append([]byte(nil), sub[j:j+slen]...)})
			j += slen
		}
		infos = append(infos, VendorInfo125{EnterpriseNumber: en, Subopts: subopts})
	}
	return infos, nil
}

// RFC4174Value (option 83, iSNS): functions:u16, dd_access:u16,
// admin_flags:u16, security:u32, then an IPv4 list. The source's encoder
// requires this exact field order without validating it on decode (DESIGN
// NOTES §9); this decoder enforces the same order and exact widths.
type RFC4174Value struct {
	Functions    uint16
	DDAccess     uint16
	AdminFlags   uint16
	Security     uint32
	ServerAddrs  []addr.IPv4
}

func (v RFC4174Value) Kind() TypeKind { return KindRFC4174_83 }

func (v RFC4174Value) Encode() []byte {
	out := []byte{
		byte(v.Functions >> 8), byte(v.Functions),
		byte(v.DDAccess >> 8), byte(v.DDAccess),
		byte(v.AdminFlags >> 8), byte(v.AdminFlags),
		byte(v.Security >> 24), byte(v.Security >> 16), byte(v.Security >> 8), byte(v.Security),
	}
	for _, ip := range v.ServerAddrs {
		b := ip.Bytes()
		out = append(out, b[:]...)
	}
	return out
}

func decodeRFC4174(data []byte) (OptionValue, error) {
	const fixedLen = 2 + 2 + 2 + 4
	if len(data) < fixedLen {
		return nil, fmt.Errorf("%w: rfc4174-83 requires %d fixed bytes, got %d", ErrInvalidOptionValue, fixedLen, len(data))
	}
	if (len(data)-fixedLen)%4 != 0 {
		return nil, fmt.Errorf("%w: rfc4174-83 trailing IPv4 list length %d not multiple of 4", ErrInvalidOptionValue, len(data)-fixedLen)
	}
	v := RFC4174Value{
		Functions:  uint16(data[0])<<8 | uint16(data[1]),
		DDAccess:   uint16(data[2])<<8 | uint16(data[3]),
		AdminFlags: uint16(data[4])<<8 | uint16(data[5]),
		Security:   uint32(data[6])<<24 | uint32(data[7])<<16 | uint32(data[8])<<8 | uint32(data[9]),
	}
	for i := fixedLen; i < len(data); i += 4 {
		ip, err := addr.IPv4FromBytes(data[i : i+4])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOptionValue, err)
		}
		v.ServerAddrs = append(v.ServerAddrs, ip)
	}
	return v, nil
}

// RFC2610Value (options 78/79, Service Location Protocol): a leading
// "mandatory" byte (0 or 1) followed by an IPv4 list (78) or a UTF-8
// scope list (79).
type RFC2610Value struct {
	Kind_     TypeKind
	Mandatory bool
	IPs       []addr.IPv4
	Scopes    string
}

func (v RFC2610Value) Kind() TypeKind { return v.Kind_ }

func (v RFC2610Value) Encode() []byte {
	var mandatoryByte byte
	if v.Mandatory {
		mandatoryByte = 1
	}
	out := []byte{mandatoryByte}
	if v.Kind_ == KindRFC2610_78 {
		for _, ip := range v.IPs {
			b := ip.Bytes()
			out = append(out, b[:]...)
		}
		return out
	}
	return append(out, v.Scopes...)
}

func decodeRFC2610(kind TypeKind, data []byte) (OptionValue, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: %s requires a leading mandatory byte", ErrInvalidOptionValue, kind)
	}
	v := RFC2610Value{Kind_: kind, Mandatory: data[0] != 0}
	body := data[1:]
	if kind == KindRFC2610_78 {
		if len(body)%4 != 0 {
			return nil, fmt.Errorf("%w: rfc2610-78 IPv4 list length %d not multiple of 4", ErrInvalidOptionValue, len(body))
		}
		for i := 0; i < len(body); i += 4 {
			ip, err := addr.IPv4FromBytes(body[i : i+4])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidOptionValue, err)
			}
			v.IPs = append(v.IPs, ip)
		}
		return v, nil
	}
	v.Scopes = string(body)
	return v, nil
}

// RFC5678Value139 (option 139, SIP-UA configuration via DHCP, IPv4
// sub-options): sequence of (subopt_code:u8, then an IPv4 list).
type Suboption139 struct {
	Code  byte
	IPs   []addr.IPv4
}

type RFC5678Value139 []Suboption139

func (v RFC5678Value139) Kind() TypeKind { return KindRFC5678_139 }

func (v RFC5678Value139) Encode() []byte {
	var out []byte
	for _, s := range v {
		out = append(out, s.Code)
		for _, ip := range s.IPs {
			b := ip.Bytes()
			out = append(out, b[:]...)
		}
	}
	return out
}

// RFC5678Value140 (option 140, domain-name sub-options): sequence of
// (subopt_code:u8, then an RFC1035-plus domain list).
type Suboption140 struct {
	Code    byte
	Domains []string
}

type RFC5678Value140 []Suboption140

func (v RFC5678Value140) Kind() TypeKind { return KindRFC5678_140 }

func (v RFC5678Value140) Encode() []byte {
	var out []byte
	for _, s := range v {
		out = append(out, s.Code)
		out = append(out, domainListEncode(s.Domains)...)
	}
	return out
}

func decodeRFC5678_139(data []byte) (OptionValue, error) {
	var subs RFC5678Value139
	i := 0
	for i < len(data) {
		if i+1 > len(data) {
			return nil, fmt.Errorf("%w: rfc5678-139 truncated sub-option code", ErrInvalidOptionValue)
		}
		code := data[i]
		i++
		// Each sub-option runs to the end of the option's data; multiple
		// sub-options are distinguished by repeating the option code in
		// successive TLVs (RFC 3396), so within one decoded blob a single
		// code's IPv4 list fills the remainder.
		rest := data[i:]
		if len(rest)%4 != 0 {
			return nil, fmt.Errorf("%w: rfc5678-139 IPv4 list length %d not multiple of 4", ErrInvalidOptionValue, len(rest))
		}
		ips := make([]addr.IPv4, 0, len(rest)/4)
		for j := 0; j < len(rest); j += 4 {
			ip, err := addr.IPv4FromBytes(rest[j : j+4])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidOptionValue, err)
			}
			ips = append(ips, ip)
		}
		subs = append(subs, Suboption139{Code: code, IPs: ips})
		i = len(data)
	}
	return subs, nil
}

func decodeRFC5678_140(data []byte) (OptionValue, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: rfc5678-140 requires a leading sub-option code", ErrInvalidOptionValue)
	}
	code := data[0]
	domains, err := domainListDecode(data[1:])
	if err != nil {
		return nil, err
	}
	return RFC5678Value140{{Code: code, Domains: domains}}, nil
}
