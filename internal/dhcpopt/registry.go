package dhcpopt

import "fmt"

// OptionDef is one compile-time registry entry: the option's wire type and
// the length constraint its decoded payload must satisfy. FixedLen, when
// nonzero, requires an exact match; otherwise MinLen is a floor and
// Multiple (when nonzero) requires the payload length be a multiple of it.
type OptionDef struct {
	Code     byte
	Name     string
	Kind     TypeKind
	FixedLen int
	MinLen   int
	Multiple int
}

// registry is the compile-time option table, keyed by code. It is built
// once at package init and never mutated afterwards, so concurrent readers
// need no synchronisation (§4.A).
var registry = map[byte]OptionDef{
	0:   {Code: 0, Name: "pad", Kind: KindPad},
	1:   {Code: 1, Name: "subnet_mask", Kind: KindIPv4, FixedLen: 4},
	2:   {Code: 2, Name: "time_offset", Kind: KindU32, FixedLen: 4},
	3:   {Code: 3, Name: "router", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	4:   {Code: 4, Name: "time_server", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	5:   {Code: 5, Name: "name_server", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	6:   {Code: 6, Name: "domain_name_server", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	7:   {Code: 7, Name: "log_server", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	8:   {Code: 8, Name: "cookie_server", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	9:   {Code: 9, Name: "lpr_server", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	10:  {Code: 10, Name: "impress_server", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	11:  {Code: 11, Name: "resource_location_server", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	12:  {Code: 12, Name: "hostname", Kind: KindString, MinLen: 1},
	13:  {Code: 13, Name: "boot_file_size", Kind: KindU16, FixedLen: 2},
	14:  {Code: 14, Name: "merit_dump_file", Kind: KindString, MinLen: 1},
	15:  {Code: 15, Name: "domain_name", Kind: KindString, MinLen: 1},
	16:  {Code: 16, Name: "swap_server", Kind: KindIPv4, FixedLen: 4},
	17:  {Code: 17, Name: "root_path", Kind: KindString, MinLen: 1},
	18:  {Code: 18, Name: "extensions_path", Kind: KindString, MinLen: 1},
	19:  {Code: 19, Name: "ip_forwarding", Kind: KindBool, FixedLen: 1},
	20:  {Code: 20, Name: "non_local_source_routing", Kind: KindBool, FixedLen: 1},
	21:  {Code: 21, Name: "policy_filter", Kind: KindIPv4Mult, MinLen: 8, Multiple: 8},
	22:  {Code: 22, Name: "max_datagram_reassembly", Kind: KindU16, FixedLen: 2},
	23:  {Code: 23, Name: "default_ip_ttl", Kind: KindByte, FixedLen: 1},
	24:  {Code: 24, Name: "path_mtu_aging_timeout", Kind: KindU32, FixedLen: 4},
	25:  {Code: 25, Name: "path_mtu_plateau_table", Kind: KindU16Plus, MinLen: 2, Multiple: 2},
	26:  {Code: 26, Name: "interface_mtu", Kind: KindU16, FixedLen: 2},
	27:  {Code: 27, Name: "all_subnets_local", Kind: KindBool, FixedLen: 1},
	28:  {Code: 28, Name: "broadcast_address", Kind: KindIPv4, FixedLen: 4},
	29:  {Code: 29, Name: "perform_mask_discovery", Kind: KindBool, FixedLen: 1},
	30:  {Code: 30, Name: "mask_supplier", Kind: KindBool, FixedLen: 1},
	31:  {Code: 31, Name: "perform_router_discovery", Kind: KindBool, FixedLen: 1},
	32:  {Code: 32, Name: "router_solicitation_address", Kind: KindIPv4, FixedLen: 4},
	33:  {Code: 33, Name: "static_route", Kind: KindIPv4Mult, MinLen: 8, Multiple: 8},
	34:  {Code: 34, Name: "trailer_encapsulation", Kind: KindBool, FixedLen: 1},
	35:  {Code: 35, Name: "arp_cache_timeout", Kind: KindU32, FixedLen: 4},
	36:  {Code: 36, Name: "ethernet_encapsulation", Kind: KindBool, FixedLen: 1},
	37:  {Code: 37, Name: "tcp_default_ttl", Kind: KindByte, FixedLen: 1},
	38:  {Code: 38, Name: "tcp_keepalive_interval", Kind: KindU32, FixedLen: 4},
	39:  {Code: 39, Name: "tcp_keepalive_garbage", Kind: KindBool, FixedLen: 1},
	40:  {Code: 40, Name: "nis_domain", Kind: KindString, MinLen: 1},
	41:  {Code: 41, Name: "nis_servers", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	42:  {Code: 42, Name: "ntp_servers", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	43:  {Code: 43, Name: "vendor_specific", Kind: KindBytes, MinLen: 1},
	44:  {Code: 44, Name: "netbios_name_server", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	45:  {Code: 45, Name: "netbios_datagram_dist", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	46:  {Code: 46, Name: "netbios_node_type", Kind: KindByte, FixedLen: 1},
	47:  {Code: 47, Name: "netbios_scope", Kind: KindString, MinLen: 1},
	48:  {Code: 48, Name: "x_window_font_server", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	49:  {Code: 49, Name: "x_window_display_manager", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	50:  {Code: 50, Name: "requested_ip_address", Kind: KindIPv4, FixedLen: 4},
	51:  {Code: 51, Name: "ip_lease_time", Kind: KindU32, FixedLen: 4},
	52:  {Code: 52, Name: "option_overload", Kind: KindByte, FixedLen: 1},
	53:  {Code: 53, Name: "dhcp_message_type", Kind: KindByte, FixedLen: 1},
	54:  {Code: 54, Name: "server_identifier", Kind: KindIPv4, FixedLen: 4},
	55:  {Code: 55, Name: "parameter_request_list", Kind: KindBytes, MinLen: 1},
	56:  {Code: 56, Name: "message", Kind: KindString, MinLen: 1},
	57:  {Code: 57, Name: "max_dhcp_message_size", Kind: KindU16, FixedLen: 2},
	58:  {Code: 58, Name: "renewal_time", Kind: KindU32, FixedLen: 4},
	59:  {Code: 59, Name: "rebinding_time", Kind: KindU32, FixedLen: 4},
	60:  {Code: 60, Name: "vendor_class_identifier", Kind: KindString, MinLen: 1},
	61:  {Code: 61, Name: "client_identifier", Kind: KindIdentifier, MinLen: 2},
	66:  {Code: 66, Name: "tftp_server_name", Kind: KindString, MinLen: 1},
	67:  {Code: 67, Name: "bootfile_name", Kind: KindString, MinLen: 1},
	77:  {Code: 77, Name: "user_class", Kind: KindBytes, MinLen: 1},
	78:  {Code: 78, Name: "slp_directory_agent", Kind: KindRFC2610_78, MinLen: 1},
	79:  {Code: 79, Name: "slp_service_scope", Kind: KindRFC2610_79, MinLen: 1},
	81:  {Code: 81, Name: "client_fqdn", Kind: KindBytes, MinLen: 3},
	82:  {Code: 82, Name: "relay_agent_information", Kind: KindBytes, MinLen: 2},
	83:  {Code: 83, Name: "isns", Kind: KindRFC4174_83, MinLen: 10},
	88:  {Code: 88, Name: "netinfo_parent_server_tag", Kind: KindRFC4280_88, MinLen: 1},
	97:  {Code: 97, Name: "uuid_guid_client_identifier", Kind: KindIdentifier, MinLen: 2},
	118: {Code: 118, Name: "subnet_selection", Kind: KindIPv4, FixedLen: 4},
	119: {Code: 119, Name: "domain_search", Kind: KindRFC3397_119, MinLen: 1},
	120: {Code: 120, Name: "sip_servers", Kind: KindRFC3361_120, MinLen: 1},
	121: {Code: 121, Name: "classless_static_route", Kind: KindRFC3442_121, MinLen: 5},
	124: {Code: 124, Name: "vendor_identifying_vendor_class", Kind: KindRFC3925_124, MinLen: 5},
	125: {Code: 125, Name: "vendor_identifying_vendor_specific", Kind: KindRFC3925_125, MinLen: 5},
	137: {Code: 137, Name: "os_provisioning_service", Kind: KindRFC5223_137, MinLen: 1},
	139: {Code: 139, Name: "sip_ua_ipv4_service_domains", Kind: KindRFC5678_139, MinLen: 5},
	140: {Code: 140, Name: "sip_ua_domain_service_domains", Kind: KindRFC5678_140, MinLen: 2},
	150: {Code: 150, Name: "tftp_server_address", Kind: KindIPv4Plus, MinLen: 4, Multiple: 4},
	255: {Code: 255, Name: "end", Kind: KindEnd},
}

var nameToCode map[string]byte

func init() {
	nameToCode = make(map[string]byte, len(registry))
	for code, def := range registry {
		nameToCode[def.Name] = code
	}
}

// ByCode returns the registry entry for code, and whether one exists. An
// option code absent from the table is represented by the caller as
// Unassigned/Reserved per the caller's own policy (§4.A enumerates those as
// TypeKind variants, not registry entries, since they carry no further
// structure to validate).
func ByCode(code byte) (OptionDef, bool) {
	def, ok := registry[code]
	return def, ok
}

// ByName resolves a human-readable option name (as used by config-time
// "extra" option references) back to its wire code.
func ByName(name string) (byte, bool) {
	code, ok := nameToCode[name]
	return code, ok
}

// ValidateLength checks a decoded payload's length against the registry
// entry's constraint (§3's "decoded length must satisfy its registry
// entry" invariant).
func (d OptionDef) ValidateLength(n int) error {
	if d.FixedLen > 0 {
		if n != d.FixedLen {
			return fmt.Errorf("%w: option %d (%s): want exactly %d bytes, got %d", ErrInvalidOptionValue, d.Code, d.Name, d.FixedLen, n)
		}
		return nil
	}
	if n < d.MinLen {
		return fmt.Errorf("%w: option %d (%s): want at least %d bytes, got %d", ErrInvalidOptionValue, d.Code, d.Name, d.MinLen, n)
	}
	if d.Multiple > 1 && n%d.Multiple != 0 {
		return fmt.Errorf("%w: option %d (%s): length %d is not a multiple of %d", ErrInvalidOptionValue, d.Code, d.Name, n, d.Multiple)
	}
	return nil
}
