package udpendpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/net/ipv4"
	xrate "golang.org/x/time/rate"

	"github.com/flandhcp/staticdhcpd/internal/dhcpwire"
	"github.com/flandhcp/staticdhcpd/internal/pipeline"
	"github.com/flandhcp/staticdhcpd/internal/statsbus"
)

// readFailureBackoff is the brief sleep between consecutive non-timeout
// socket read errors (§7 "SocketError": "retried after a brief sleep").
const readFailureBackoff = 500 * time.Millisecond

// maxConsecutiveReadFailures bounds how many times a read loop retries
// before giving up (§7 "SocketError": "if retries exhaust, server clears
// alive"). A successful read resets the counter.
const maxConsecutiveReadFailures = 10

// Config configures the three sockets §4.H binds.
type Config struct {
	ServerIP          net.IP
	ServerPort        int // conventionally 67
	ResponsePort      int // conventionally an ephemeral port, 0 lets the OS pick
	PXEPort           int // 0 disables the PXE listener
	ResponseInterface string

	// MaxConcurrentPackets bounds the worker pool (§5 "a bounded worker
	// pool is equivalent provided backpressure drops rather than
	// queues"). Zero means a conservative default.
	MaxConcurrentPackets int

	// IngressRatePerSecond / IngressBurst configure the global token
	// bucket (DOMAIN STACK, golang.org/x/time/rate) that sits in front of
	// the per-MAC rate limiter on the dispatch path (§4.F). Zero disables
	// the global bucket (unlimited).
	IngressRatePerSecond float64
	IngressBurst         int
}

// Endpoint is component H: it owns the three sockets, the read loops, and
// the bounded dispatch pool that feeds Pipeline.Handle.
type Endpoint struct {
	cfg      Config
	pipeline *pipeline.Pipeline
	bus      *statsbus.Bus
	logger   *slog.Logger

	dhcpConn     *ipv4.PacketConn
	responseConn *ipv4.PacketConn
	pxeConn      *ipv4.PacketConn

	sem    chan struct{}
	global *xrate.Limiter
}

// New binds the sockets described in §4.H and returns a ready-to-run
// Endpoint. pxeConn is nil when cfg.PXEPort is 0. bus may be nil, in which
// case undecodable and dropped packets are logged but no statistics record
// is emitted for them.
func New(cfg Config, p *pipeline.Pipeline, bus *statsbus.Bus, logger *slog.Logger) (*Endpoint, error) {
	if cfg.MaxConcurrentPackets <= 0 {
		cfg.MaxConcurrentPackets = 256
	}

	dhcpConn, err := newPacketConn(net.IPv4zero, cfg.ServerPort, false, "")
	if err != nil {
		return nil, err
	}
	responseConn, err := newPacketConn(cfg.ServerIP, cfg.ResponsePort, true, cfg.ResponseInterface)
	if err != nil {
		_ = dhcpConn.Close()
		return nil, err
	}

	var pxeConn *ipv4.PacketConn
	if cfg.PXEPort != 0 {
		pxeConn, err = newPacketConn(net.IPv4zero, cfg.PXEPort, false, "")
		if err != nil {
			_ = dhcpConn.Close()
			_ = responseConn.Close()
			return nil, err
		}
	}

	var global *xrate.Limiter
	if cfg.IngressRatePerSecond > 0 {
		burst := cfg.IngressBurst
		if burst <= 0 {
			burst = int(cfg.IngressRatePerSecond)
		}
		global = xrate.NewLimiter(xrate.Limit(cfg.IngressRatePerSecond), burst)
	}

	return &Endpoint{
		cfg:          cfg,
		pipeline:     p,
		bus:          bus,
		logger:       logger,
		dhcpConn:     dhcpConn,
		responseConn: responseConn,
		pxeConn:      pxeConn,
		sem:          make(chan struct{}, cfg.MaxConcurrentPackets),
		global:       global,
	}, nil
}

// Run reads from every bound socket until ctx is cancelled, dispatching
// each datagram to its own goroutine (bounded by the semaphore). It
// returns when all read loops have exited and every in-flight worker has
// finished its packet (§5 "workers finish their current packet, then exit").
func (e *Endpoint) Run(ctx context.Context) error {
	errCh := make(chan error, 3)
	active := 1
	go e.readLoop(ctx, e.dhcpConn, false, errCh)

	if e.pxeConn != nil {
		active++
		go e.readLoop(ctx, e.pxeConn, true, errCh)
	}

	var firstErr error
	for i := 0; i < active; i++ {
		if err := <-errCh; err != nil && firstErr == nil && ctx.Err() == nil {
			firstErr = err
		}
	}
	for i := 0; i < cap(e.sem); i++ {
		e.sem <- struct{}{}
	}
	return firstErr
}

// Close releases all bound sockets.
func (e *Endpoint) Close() error {
	var errs []error
	if err := e.dhcpConn.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.responseConn.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.pxeConn != nil {
		if err := e.pxeConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// readLoop is the blocking multiplexing wait §4.H describes, specialised
// per socket since Go's net package gives each PacketConn its own blocking
// ReadFrom rather than a single select/poll across all three — each
// socket's own goroutine is the idiomatic equivalent of multiplexing three
// fds in one select loop.
func (e *Endpoint) readLoop(ctx context.Context, conn *ipv4.PacketConn, pxe bool, errCh chan<- error) {
	buf := make([]byte, 1500)
	consecutiveFailures := 0
	for {
		if ctx.Err() != nil {
			errCh <- nil
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				errCh <- nil
				return
			}
			consecutiveFailures++
			e.logger.ErrorContext(ctx, "socket read failed",
				slog.Any("error", err), slog.Bool("pxe", pxe), slog.Int("consecutive_failures", consecutiveFailures))
			if consecutiveFailures >= maxConsecutiveReadFailures {
				errCh <- fmt.Errorf("udpendpoint: %d consecutive read failures, last: %w", consecutiveFailures, err)
				return
			}
			select {
			case <-ctx.Done():
				errCh <- nil
				return
			case <-time.After(readFailureBackoff):
			}
			continue
		}
		consecutiveFailures = 0
		payload := make([]byte, n)
		copy(payload, buf[:n])
		e.dispatch(ctx, payload, src, pxe)
	}
}

// dispatch implements §5's bounded worker pool: it spawns a goroutine per
// packet only while the semaphore has room, and otherwise drops the packet
// (DHCP clients retransmit) rather than queueing it unboundedly. The
// global token bucket is checked first and is a pure ingress cap — it
// never substitutes for the per-MAC logic in the pipeline (§4.F).
func (e *Endpoint) dispatch(ctx context.Context, payload []byte, src net.Addr, pxe bool) {
	if e.global != nil && !e.global.Allow() {
		e.emitDropped(src, pxe)
		return
	}
	select {
	case e.sem <- struct{}{}:
	default:
		e.logger.DebugContext(ctx, "dropped inbound packet: worker pool saturated")
		e.emitDropped(src, pxe)
		return
	}
	go func() {
		defer func() { <-e.sem }()
		e.handleOne(ctx, payload, src, pxe)
	}()
}

// emitDropped emits the processed=false statistics record for a packet that
// dispatch dropped before decoding.
func (e *Endpoint) emitDropped(src net.Addr, pxe bool) {
	if e.bus != nil {
		e.bus.Emit(statsbus.Record{SourceAddr: src.String(), Method: statsbus.MethodNone, PXE: pxe})
	}
}

func (e *Endpoint) handleOne(ctx context.Context, payload []byte, src net.Addr, pxe bool) {
	req, err := dhcpwire.Decode(payload, src, pxe)
	if err != nil {
		e.logger.DebugContext(ctx, "packet decode failed", slog.Any("error", err), slog.String("source", src.String()))
		if e.bus != nil {
			e.bus.Emit(statsbus.Record{
				SourceAddr: src.String(),
				Method:     statsbus.MethodNone,
				Processed:  false,
				PXE:        pxe,
			})
		}
		return
	}

	outcome := e.pipeline.Handle(ctx, req)
	if !outcome.Emit || outcome.Reply == nil {
		return
	}
	e.send(ctx, outcome)
}

// send implements §4.G's destination-aware socket choice: a relay reply
// must originate from port 67 because some relays refuse any other source
// port, so it goes out on dhcpConn (already bound to :67) rather than the
// ephemeral response socket.
func (e *Endpoint) send(ctx context.Context, outcome pipeline.Outcome) {
	payload := dhcpwire.Encode(outcome.Reply)

	conn := e.responseConn
	if outcome.Destination.SourcePort == e.cfg.ServerPort {
		conn = e.dhcpConn
	}
	if _, err := conn.WriteTo(payload, nil, outcome.Destination.Addr); err != nil {
		e.logger.ErrorContext(ctx, "reply send failed", slog.Any("error", err), slog.String("dest", outcome.Destination.Addr.String()))
	}
}
