// Package health implements the per-peer status tracker: an administrative
// up/down flag ANDed with upstream connectivity (measured by ICMP echo to a
// configured gateway) to produce the effective status gossiped to peers.
// Grounded on original_source/fechter/keystore.py's
// _check_connectivity/_update_status and ping.py's Pinger, reimplemented
// over golang.org/x/net/icmp instead of shelling out or hand-rolling raw
// ICMP framing.
package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// Defaults per §4.4/§5: 3 echoes per round, 1s timeout each, a 5s tick.
const (
	DefaultEchoCount     = 3
	DefaultEchoTimeout   = 1 * time.Second
	DefaultCheckInterval = 5 * time.Second
)

// Prober sends ICMP echo requests to a gateway and reports connectivity.
type Prober struct {
	gateway string
	conn    *icmp.PacketConn
	id      int
	mu      sync.Mutex
	seq     int
}

// NewProber opens the raw ICMP socket used for probing gateway. Failure
// here is fatal at daemon startup per the base spec's "Raw-socket
// permission" error kind — the caller should os.Exit rather than retry.
func NewProber(gateway string) (*Prober, error) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("open icmp socket (requires CAP_NET_RAW or root): %w", err)
	}
	return &Prober{
		gateway: gateway,
		conn:    conn,
		id:      os.Getpid() & 0xffff,
	}, nil
}

// Close releases the raw socket.
func (p *Prober) Close() error { return p.conn.Close() }

// echoOnce sends one ICMP echo and waits up to timeout for any reply.
func (p *Prober) echoOnce(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho, Code: 0,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: []byte("outrigger-probe")},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return fmt.Errorf("marshal icmp echo: %w", err)
	}

	dst := &net.IPAddr{IP: net.ParseIP(p.gateway)}
	if dst.IP == nil {
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, p.gateway)
		if err != nil || len(ips) == 0 {
			return fmt.Errorf("resolve gateway %q: %w", p.gateway, err)
		}
		dst = &ips[0]
	}

	if _, err := p.conn.WriteTo(wb, dst); err != nil {
		return fmt.Errorf("send icmp echo: %w", err)
	}

	deadline := time.Now().Add(timeout)
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	rb := make([]byte, 1500)
	for {
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}
		n, peer, err := p.conn.ReadFrom(rb)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return context.DeadlineExceeded
			}
			return fmt.Errorf("read icmp reply: %w", err)
		}
		if peerAddr, ok := peer.(*net.IPAddr); ok && dst.IP != nil && !peerAddr.IP.Equal(dst.IP) {
			continue
		}
		rm, err := icmp.ParseMessage(1, rb[:n])
		if err != nil {
			continue
		}
		if rm.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		if echo, ok := rm.Body.(*icmp.Echo); ok && echo.ID == p.id && echo.Seq == seq {
			return nil
		}
	}
}

// Probe runs up to DefaultEchoCount echoes, each with DefaultEchoTimeout.
// Success on any echo means the gateway is reachable.
func (p *Prober) Probe(ctx context.Context) bool {
	for i := 0; i < DefaultEchoCount; i++ {
		if err := p.echoOnce(ctx, DefaultEchoTimeout); err == nil {
			return true
		}
	}
	return false
}

// Tracker owns the administrative/connectivity booleans and recomputes the
// effective status on every tick or administrative change, publishing
// transitions via publish.
type Tracker struct {
	mu sync.Mutex

	administrative bool
	connectivity   bool // sticky: only changes when a probe round's outcome differs

	prober  *Prober
	publish func(up bool)

	stop chan struct{}
}

// NewTracker builds a Tracker. Both booleans start false (administratively
// down, connectivity down), matching the Python original's "_status =
// 'down'; _connectivity = 'down'" initial state.
func NewTracker(prober *Prober, publish func(up bool)) *Tracker {
	return &Tracker{prober: prober, publish: publish, stop: make(chan struct{})}
}

// Start begins the periodic connectivity check loop (DefaultCheckInterval).
func (t *Tracker) Start() {
	go t.loop()
}

// Stop halts the periodic check loop.
func (t *Tracker) Stop() { close(t.stop) }

func (t *Tracker) loop() {
	ticker := time.NewTicker(DefaultCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.runCheck()
		}
	}
}

func (t *Tracker) runCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultEchoCount*DefaultEchoTimeout+time.Second)
	defer cancel()
	up := t.prober.Probe(ctx)
	t.setConnectivity(up)
}

// SetAdministrative changes the administrative status (POST /status).
func (t *Tracker) SetAdministrative(up bool) {
	t.mu.Lock()
	before := t.effectiveLocked()
	t.administrative = up
	effective := t.effectiveLocked()
	changed := effective != before
	t.mu.Unlock()
	if changed {
		t.publish(effective)
	}
}

func (t *Tracker) setConnectivity(up bool) {
	t.mu.Lock()
	before := t.effectiveLocked()
	t.connectivity = up
	effective := t.effectiveLocked()
	changed := effective != before
	t.mu.Unlock()
	if changed {
		t.publish(effective)
	}
}

func (t *Tracker) effectiveLocked() bool {
	return t.administrative && t.connectivity
}

// Administrative returns the administratively-set status.
func (t *Tracker) Administrative() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.administrative
}

// Connectivity returns the last-measured upstream connectivity.
func (t *Tracker) Connectivity() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectivity
}

// Effective returns administrative && connectivity.
func (t *Tracker) Effective() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.effectiveLocked()
}

// ForceConnectivity overrides the connectivity flag directly, bypassing the
// ICMP probe loop. Exported for tests that need a deterministic effective
// status without a real gateway to probe.
func (t *Tracker) ForceConnectivity(up bool) {
	t.setConnectivity(up)
}

// PublishInitial writes the current effective status once unconditionally,
// matching service.py's make_connection calling _update_status before the
// first transition has a chance to occur.
func (t *Tracker) PublishInitial() {
	t.publish(t.Effective())
}
