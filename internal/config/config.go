// Package config defines the validated configuration surface (§6) this
// server is constructed from. Parsing it out of a file, daemonising, and
// serving the web dashboard are all explicitly out of scope (§1); Config
// is a plain Go struct an embedder builds and validates in-process, in the
// same shape internal/dhcpsvc/config.go's Config/Validate pairing takes.
package config

import (
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"

	"github.com/flandhcp/staticdhcpd/internal/addr"
)

// Config is the full, validated configuration surface for one server
// instance (§6).
type Config struct {
	// SystemName identifies this instance in logs and statistics.
	SystemName string

	// ServerIP is this server's own address; it is stamped into SIAddr and
	// option 54 on every reply. It must not be the zero address.
	ServerIP addr.IPv4

	// ServerPort is the inbound DHCP port, conventionally 67.
	ServerPort int
	// ClientPort is the port replies are sent to when unicasting to a
	// client, conventionally 68.
	ClientPort int
	// PXEPort, when nonzero, is the optional PXE listener port (§4.H),
	// conventionally 4011.
	PXEPort int
	// ResponseInterface, when set, binds the response socket to a specific
	// interface (SO_BINDTODEVICE) rather than the wildcard address.
	ResponseInterface string

	// AllowLocalDHCP admits packets with a zero GIAddr (§4.G pre-conditions).
	AllowLocalDHCP bool
	// AllowDHCPRelays admits packets with a nonzero GIAddr.
	AllowDHCPRelays bool
	// AllowedDHCPRelays, when non-empty, restricts accepted relays to this
	// set (§4.G pre-conditions).
	AllowedDHCPRelays []addr.IPv4

	// Authoritative governs NAK behaviour for INIT-REBOOT and unknown MACs
	// (§4.G "Response construction", §7).
	Authoritative bool
	// NAKRenewals forces RENEW/REBIND clients back through DISCOVER
	// (§4.G "REQUEST/RENEW|REBIND").
	NAKRenewals bool

	// UnauthorizedClientTimeout is the unknown-MAC cooldown, default 60s.
	UnauthorizedClientTimeout time.Duration
	// MisbehavingClientTimeout is the misbehaving-MAC cooldown, default 150s.
	MisbehavingClientTimeout time.Duration
	// EnableSuspend toggles the misbehaving-cooldown transition, default true.
	EnableSuspend bool
	// SuspendThreshold is the per-window hit count above which a MAC is
	// classed misbehaving, default 10.
	SuspendThreshold uint32
	// PollingInterval is the rate limiter's window size, default 30s.
	PollingInterval time.Duration

	// UseCache enables the directory-fronting cache layer (component E).
	UseCache bool
	// DiskCachePath, when set alongside UseCache, backs the cache with a
	// bbolt file instead of memory only.
	DiskCachePath string

	// The following keys exist only so Config is a faithful superset of
	// the source configuration surface (§6); this implementation does not
	// act on them (no daemonisation, no web server, no SMTP client — all
	// out of scope) and Validate does not require them to be set.
	Daemon              bool
	UID, GID            int
	PIDFile             string
	WebEnabled          bool
	WebIP               string
	WebPort             int
	WebDigestUsername   string
	WebDigestPassword   string
	WebReloadKeyMD5Hex  string
	EmailEnabled        bool
	EmailSMTPParameters map[string]string
}

var _ validate.Interface = (*Config)(nil)

// Validate implements [validate.Interface]. It folds every independent
// check with errors.Join rather than returning on the first failure, the
// shape internal/dhcpsvc/config.go's Config.Validate takes.
func (c *Config) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotEmpty("ServerPort", c.ServerPort),
		validate.NotEmpty("ClientPort", c.ClientPort),
		validate.NotNegative("UnauthorizedClientTimeout", c.UnauthorizedClientTimeout),
		validate.NotNegative("MisbehavingClientTimeout", c.MisbehavingClientTimeout),
		validate.NotNegative("PollingInterval", c.PollingInterval),
	}

	if c.ServerIP.IsZero() {
		errs = append(errs, fmt.Errorf("ServerIP: %w", errors.ErrEmptyValue))
	}

	// AllowDHCPRelays with an empty AllowedDHCPRelays is not an error: per
	// §6 the latter defaults to [], meaning "any relay" rather than "none".
	// UseCache with an empty DiskCachePath is not an error either: it
	// selects MemoryCache rather than DiskCache (§4.E offers both).

	return errors.Join(errs...)
}

// WithDefaults returns a copy of c with every zero-valued tunable that has
// a documented spec default (§6) filled in. It does not touch required
// fields (ServerIP, ports) since those have no sensible default, and it
// leaves boolean fields (EnableSuspend, AllowLocalDHCP) as given, since a
// false value cannot be told apart from an unset one.
func (c Config) WithDefaults() Config {
	if c.SystemName == "" {
		c.SystemName = "staticDHCPd"
	}
	if c.ServerPort == 0 {
		c.ServerPort = 67
	}
	if c.ClientPort == 0 {
		c.ClientPort = 68
	}
	if c.UnauthorizedClientTimeout == 0 {
		c.UnauthorizedClientTimeout = 60 * time.Second
	}
	if c.MisbehavingClientTimeout == 0 {
		c.MisbehavingClientTimeout = 150 * time.Second
	}
	if c.SuspendThreshold == 0 {
		c.SuspendThreshold = 10
	}
	if c.PollingInterval == 0 {
		c.PollingInterval = 30 * time.Second
	}
	return c
}
