package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/uuid"

	"github.com/flandhcp/staticdhcpd/internal/addr"
	"github.com/flandhcp/staticdhcpd/internal/dhcpwire"
	"github.com/flandhcp/staticdhcpd/internal/directory"
	"github.com/flandhcp/staticdhcpd/internal/lease"
	"github.com/flandhcp/staticdhcpd/internal/ratelimit"
	"github.com/flandhcp/staticdhcpd/internal/statsbus"
)

// ErrDirectory wraps a directory backend failure (§7 "DirectoryError").
const ErrDirectory errors.Error = "pipeline: directory lookup failed"

// Settings is the subset of config.Config the pipeline consults directly;
// kept narrow so the pipeline package doesn't import the config package
// (which would be a needless dependency cycle risk as config grows).
type Settings struct {
	ServerIP          addr.IPv4
	ServerPort        int
	ClientPort        int
	AllowLocalDHCP    bool
	AllowDHCPRelays   bool
	AllowedDHCPRelays []addr.IPv4
	Authoritative     bool
	NAKRenewals       bool
}

// Pipeline is component G: it classifies, admits, resolves, and answers
// one request at a time. One Pipeline is shared (read-only after
// construction, save for its Limiter) by every worker goroutine the UDP
// endpoint spawns.
type Pipeline struct {
	settings Settings
	dir      directory.Port
	limiter  *ratelimit.Limiter
	bus      *statsbus.Bus
	logger   *slog.Logger

	loadHook    LoadDHCPPacketHook
	unknownHook HandleUnknownMACHook
}

// New builds a Pipeline. loadHook/unknownHook may be nil, in which case
// the no-op defaults are used (§9 "Hook callbacks").
func New(
	settings Settings,
	dir directory.Port,
	limiter *ratelimit.Limiter,
	bus *statsbus.Bus,
	logger *slog.Logger,
	loadHook LoadDHCPPacketHook,
	unknownHook HandleUnknownMACHook,
) *Pipeline {
	if loadHook == nil {
		loadHook = NoopLoadDHCPPacket
	}
	if unknownHook == nil {
		unknownHook = NoopHandleUnknownMAC
	}
	return &Pipeline{
		settings:    settings,
		dir:         dir,
		limiter:     limiter,
		bus:         bus,
		logger:      logger,
		loadHook:    loadHook,
		unknownHook: unknownHook,
	}
}

// Outcome is what Handle decided to do with one request.
type Outcome struct {
	Reply       *dhcpwire.Packet
	Destination Destination
	Emit        bool
}

// Handle runs one decoded request through the full pipeline (§4.G): pre-
// conditions, rate limiting, directory resolution, response construction,
// the load_dhcp_packet hook, and destination selection. It always emits
// exactly one statistics record (§4.I), whether or not a reply is sent.
func (p *Pipeline) Handle(ctx context.Context, req *dhcpwire.Packet) Outcome {
	start := time.Now()
	traceID := uuid.NewString()
	logger := p.logger.With(slog.String("trace_id", traceID), slog.Uint64("xid", uint64(req.XID)))

	method := classifyMethod(req)

	mac, err := req.MAC()
	if err != nil {
		logger.WarnContext(ctx, "request has an unusable hardware address", slog.Any("error", err))
		p.emitStats(req, addr.MAC{}, addr.IPv4{}, lease.SubnetKey{}, method, start, false)
		return Outcome{}
	}
	logger = logger.With(slog.String("mac", mac.String()), slog.Bool("pxe", req.PXE))

	if !p.preconditionsOK(req) {
		logger.DebugContext(ctx, "dropped by relay pre-conditions")
		p.emitStats(req, mac, addr.IPv4{}, lease.SubnetKey{}, method, start, false)
		return Outcome{}
	}

	if !p.limiter.Admit(mac) {
		logger.DebugContext(ctx, "dropped by rate limiter")
		p.emitStats(req, mac, addr.IPv4{}, lease.SubnetKey{}, method, start, false)
		return Outcome{}
	}

	def, err := p.resolve(ctx, req, mac, logger)
	if err != nil {
		logger.ErrorContext(ctx, "directory lookup failed", slog.Any("error", err))
		p.emitStats(req, mac, addr.IPv4{}, lease.SubnetKey{}, method, start, false)
		return Outcome{}
	}

	reply, emit := p.buildResponse(ctx, req, def, method, logger)
	if emit && reply != nil {
		drop, hookErr := p.loadHook(ctx, req, reply, mac, def)
		if hookErr != nil {
			logger.ErrorContext(ctx, "load_dhcp_packet hook failed", slog.Any("error", hookErr))
			emit = false
		} else if drop {
			emit = false
		}
	}

	var ip addr.IPv4
	var key lease.SubnetKey
	if def != nil {
		ip, key = def.IP, def.Key
	}
	p.emitStats(req, mac, ip, key, method, start, emit)

	if !emit || reply == nil {
		return Outcome{}
	}
	return Outcome{
		Reply:       reply,
		Destination: selectDestination(reply, p.settings.ClientPort, p.settings.ServerPort),
		Emit:        true,
	}
}

// preconditionsOK implements §4.G's relay pre-conditions, evaluated before
// the rate limiter and the directory are ever touched.
func (p *Pipeline) preconditionsOK(req *dhcpwire.Packet) bool {
	if !req.IsRelayed() {
		return p.settings.AllowLocalDHCP
	}
	if !p.settings.AllowDHCPRelays {
		return false
	}
	if len(p.settings.AllowedDHCPRelays) == 0 {
		return true
	}
	for _, relay := range p.settings.AllowedDHCPRelays {
		if relay.Equal(req.GIAddr) {
			return true
		}
	}
	return false
}

// resolve performs directory resolution and multi-definition selection
// (§4.G "Directory resolution"). A lease.ErrNotFound from the directory is
// treated as an empty result. A nil, nil return means the MAC remains
// unresolved after the unknown-MAC hook has had its say; callers branch on
// Authoritative themselves in buildResponse for NAK-vs-silence, so resolve
// does not apply that policy.
func (p *Pipeline) resolve(ctx context.Context, req *dhcpwire.Packet, mac addr.MAC, logger *slog.Logger) (*lease.Definition, error) {
	defs, err := p.dir.Lookup(ctx, mac)
	if err != nil && !errors.Is(err, lease.ErrNotFound) {
		return nil, errors.Annotate(err, string(ErrDirectory)+": %w")
	}

	def := selectDefinition(defs, req.GIAddr)
	if def != nil {
		return def, nil
	}

	def, err = p.unknownHook(ctx, req, mac)
	if err != nil {
		logger.ErrorContext(ctx, "handle_unknown_mac hook failed", slog.Any("error", err))
		return nil, nil
	}
	if def != nil {
		return def, nil
	}

	p.limiter.MarkUnknown(mac)
	return nil, nil
}

// selectDefinition implements §4.G's "multi-definition selection": if
// giaddr is set, pick the candidate whose subnet contains it; otherwise
// the sole candidate (or nil if there isn't exactly one to fall back on
// unambiguously).
func selectDefinition(defs []*lease.Definition, giaddr addr.IPv4) *lease.Definition {
	if len(defs) == 0 {
		return nil
	}
	if len(defs) == 1 {
		return defs[0]
	}
	if giaddr.IsZero() {
		return nil
	}
	for _, def := range defs {
		if def.ContainsAddress(giaddr) {
			return def
		}
	}
	return nil
}

func (p *Pipeline) emitStats(
	req *dhcpwire.Packet,
	mac addr.MAC,
	ip addr.IPv4,
	key lease.SubnetKey,
	method Method,
	start time.Time,
	processed bool,
) {
	p.bus.Emit(statsbus.Record{
		SourceAddr:     addrString(req),
		MAC:            mac,
		IP:             ip,
		SubnetID:       key.SubnetID,
		Serial:         key.Serial,
		Method:         toStatsMethod(method),
		ProcessingTime: time.Since(start),
		Processed:      processed,
		PXE:            req.PXE,
	})
}

func addrString(req *dhcpwire.Packet) string {
	if req.SourceAddr == nil {
		return ""
	}
	return req.SourceAddr.String()
}

func toStatsMethod(m Method) statsbus.Method {
	switch m {
	case MethodDiscover:
		return statsbus.MethodDiscover
	case MethodRequest:
		return statsbus.MethodRequest
	case MethodDecline:
		return statsbus.MethodDecline
	case MethodRelease:
		return statsbus.MethodRelease
	case MethodInform:
		return statsbus.MethodInform
	case MethodLeaseQuery:
		return statsbus.MethodLeaseQuery
	default:
		return statsbus.MethodNone
	}
}
