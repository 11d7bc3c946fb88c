// Package addr implements the validated value objects shared across the
// codec, directory, and cache layers: IPv4 addresses, MAC addresses, and
// subnet descriptors.
package addr

import (
	"fmt"
	"strconv"
	"strings"
)

const maxIPInt = 4294967295

// IPv4 is a 32-bit address with three mutually consistent views: a 32-bit
// integer, a dotted-quad string, and a 4-byte big-endian array. The zero
// value is 0.0.0.0.
type IPv4 struct {
	v uint32
}

// IPv4FromUint32 builds an IPv4 from its big-endian integer representation.
func IPv4FromUint32(v uint32) IPv4 { return IPv4{v: v} }

// IPv4FromBytes builds an IPv4 from a 4-byte big-endian slice.
func IPv4FromBytes(b []byte) (IPv4, error) {
	if len(b) != 4 {
		return IPv4{}, fmt.Errorf("addr: %d is not a valid IPv4 byte length: want 4", len(b))
	}
	return IPv4{v: uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])}, nil
}

// ParseIPv4 parses a dotted-quad string such as "192.168.0.1".
func ParseIPv4(s string) (IPv4, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return IPv4{}, fmt.Errorf("addr: %q is not a valid IPv4: length != 4 octets", s)
	}
	var octets [4]byte
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return IPv4{}, fmt.Errorf("addr: %q is not a valid IPv4: non-integer octet %q", s, p)
		}
		if n < 0 || n > 255 {
			return IPv4{}, fmt.Errorf("addr: %q is not a valid IPv4: octet %d out of byte range", s, n)
		}
		octets[i] = byte(n)
	}
	return IPv4{v: uint32(octets[0])<<24 | uint32(octets[1])<<16 | uint32(octets[2])<<8 | uint32(octets[3])}, nil
}

// Uint32 returns the big-endian integer view.
func (a IPv4) Uint32() uint32 { return a.v }

// Bytes returns the 4-byte big-endian view.
func (a IPv4) Bytes() [4]byte {
	return [4]byte{byte(a.v >> 24), byte(a.v >> 16), byte(a.v >> 8), byte(a.v)}
}

// IsZero reports whether the address is 0.0.0.0.
func (a IPv4) IsZero() bool { return a.v == 0 }

// String returns the canonical dotted-quad form.
func (a IPv4) String() string {
	b := a.Bytes()
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}

// Equal reports whether two IPv4 values denote the same address.
func (a IPv4) Equal(other IPv4) bool { return a.v == other.v }

// IsSubnetMember reports whether address, masked by mask, falls in the same
// subnet as a, also masked by mask. mask is itself an IPv4 (dotted-quad or
// CIDR-derived, see MaskFromPrefix).
func (a IPv4) IsSubnetMember(address IPv4, mask IPv4) bool {
	m := mask.v
	return m&address.v == m&a.v
}

// MaskFromPrefix builds a dotted-quad mask IPv4 from a CIDR prefix length
// in [0, 32].
func MaskFromPrefix(prefix int) (IPv4, error) {
	if prefix < 0 || prefix > 32 {
		return IPv4{}, fmt.Errorf("addr: invalid CIDR prefix: %d", prefix)
	}
	if prefix == 0 {
		return IPv4{v: 0}, nil
	}
	return IPv4{v: uint32(maxIPInt << (32 - prefix))}, nil
}

// ParseSubnet splits a "ip/mask" or "ip/prefix" specifier into its address
// and mask components, e.g. ParseSubnet("10.50.0.0/16") or
// ParseSubnet("192.168.0.0/255.255.255.0"). A short address part such as
// "10/8" has its missing trailing octets filled with zeroes.
func ParseSubnet(subnet string) (address IPv4, mask IPv4, err error) {
	idx := strings.IndexByte(subnet, '/')
	if idx < 0 {
		return IPv4{}, IPv4{}, fmt.Errorf("addr: %q is not a subnet specifier: missing '/'", subnet)
	}
	addrPart, maskPart := subnet[:idx], subnet[idx+1:]
	for addrPart != "" && strings.Count(addrPart, ".") < 3 {
		addrPart += ".0"
	}
	address, err = ParseIPv4(addrPart)
	if err != nil {
		return IPv4{}, IPv4{}, err
	}
	if isAllDigits(maskPart) {
		prefix, convErr := strconv.Atoi(maskPart)
		if convErr != nil {
			return IPv4{}, IPv4{}, fmt.Errorf("addr: %q is not a subnet specifier: %w", subnet, convErr)
		}
		mask, err = MaskFromPrefix(prefix)
		if err != nil {
			return IPv4{}, IPv4{}, err
		}
		return address, mask, nil
	}
	mask, err = ParseIPv4(maskPart)
	if err != nil {
		return IPv4{}, IPv4{}, err
	}
	return address, mask, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
