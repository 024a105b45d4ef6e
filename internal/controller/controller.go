// Package controller implements the protocol controller: the
// single-threaded, callback-driven component that subscribes to the
// store's change notifications and dispatches install/release/reassignment
// work. Grounded on original_source/fechter/keystore.py's
// FechterProtocol.value_changed/status_change/leader_elected.
package controller

import (
	"strings"
	"time"

	"outrigger/internal/assign"
	"outrigger/internal/election"
	"outrigger/internal/health"
	"outrigger/internal/platform"
	"outrigger/internal/store"
)

// PeerLister is the subset of the gossip layer the controller needs beyond
// what Election/Driver already consume: status lookups for eligible-peer
// collection.
type PeerLister interface {
	LivePeers() []string
	StatusUp(peer string) bool
}

// Controller wires the store, election, assignment driver and platform
// shim together. It never spawns goroutines of its own: every suspension
// point (gossip IO, platform installs, ICMP, vote timer, HTTP) happens
// below it. OnChange runs on whichever goroutine applied the change and is
// not serialized by the store: a reassignment it triggers calls OnChange
// again (nested) for each assign: write, and changes arriving from gossip
// and from HTTP handlers can run it concurrently.
type Controller struct {
	self string

	store    *store.Store
	election *election.Election
	driver   *assign.Driver
	shim     platform.Shim
	peers    PeerLister
	tracker  *health.Tracker

	onEvent func(kind string, fields map[string]any)
}

// New builds a Controller. onEvent, if non-nil, is called for audit
// logging of leader elections, resource installs/releases, and assignment
// runs; callers typically wire it to internal/audit.
func New(self string, s *store.Store, e *election.Election, d *assign.Driver, shim platform.Shim, peers PeerLister, tracker *health.Tracker, onEvent func(kind string, fields map[string]any)) *Controller {
	c := &Controller{self: self, store: s, election: e, driver: d, shim: shim, peers: peers, tracker: tracker, onEvent: onEvent}
	s.OnChange(c.OnChange)
	return c
}

// OnChange implements the base spec's §4.5 dispatch exactly.
func (c *Controller) OnChange(sourcePeer, key string, value store.Value) {
	if key == store.HeartbeatKey {
		return
	}

	if c.election.HandleChange(key) {
		return
	}

	switch {
	case key == "private:status":
		// private:status is a reserved key and never reaches the store
		// via OnChange in this implementation (see internal/gossip: it
		// bypasses the store entirely). Kept for symmetry with the base
		// spec's dispatch table and as a defensive no-op if ever routed
		// here directly.
		return

	case strings.HasPrefix(key, "assign:"):
		if sourcePeer != c.self {
			return
		}
		c.handleAssignChange(key, value)

	case strings.HasPrefix(key, "resource:"):
		if sourcePeer != c.self {
			return
		}
		c.handleResourceChange()
	}
}

func (c *Controller) handleAssignChange(key string, value store.Value) {
	if _, known := c.election.IsLeader(); !known {
		return // drop pre-election events per §4.5 step 5
	}

	rid := key[len("assign:"):]
	resourceKey := "resource:" + rid
	rv, ok := c.store.Get(resourceKey)
	if !ok || rv.Deleted {
		return // a corresponding clearing event will follow
	}

	assignToMe := value.Assignment.Peer != nil && *value.Assignment.Peer == c.self
	c.shim.AssignResource(rid, assignToMe, rv.Resource.Address)
	c.emit("resource_assigned", map[string]any{"resource": rid, "assign_to_me": assignToMe})
}

func (c *Controller) handleResourceChange() {
	_, known := c.election.IsLeader()
	if !known {
		return
	}
	if isLeader, _ := c.election.IsLeader(); isLeader {
		c.AssignResources()
	}
}

// StatusChange handles a private:status transition for sourcePeer: re-runs
// assignment if this peer is currently leader. Called directly by the
// gossip layer's reserved-key delivery path rather than through OnChange,
// since reserved keys bypass the store (see internal/gossip).
func (c *Controller) StatusChange(sourcePeer string, up bool) {
	if isLeader, known := c.election.IsLeader(); known && isLeader {
		c.AssignResources()
	}
}

// LeaderElected is the election's ResultFunc: re-run assignment whenever
// this peer becomes leader.
func (c *Controller) LeaderElected(isLeader bool, leader string) {
	c.emit("leader_elected", map[string]any{"leader": leader, "is_leader": isLeader})
	if isLeader {
		c.AssignResources()
	}
}

// PeerLivenessChanged re-runs assignment if this peer is currently leader,
// per §4.5's "reassignment is also triggered on... any peer liveness
// transition while leader".
func (c *Controller) PeerLivenessChanged() {
	if isLeader, known := c.election.IsLeader(); known && isLeader {
		c.AssignResources()
	}
}

// AssignResources collects the eligible peer set and drives the assignment
// engine. Only meaningful when called while leader, but harmless otherwise
// (every peer computes the identical deterministic map; only the leader's
// write actually matters because non-leaders' assign: writes race but
// converge, per invariant 4 in §3).
func (c *Controller) AssignResources() {
	sorted := election.EligiblePeers(c.self, c.tracker.Effective(), c.peers.LivePeers(), c.peers.StatusUp)
	c.driver.AssignResources(sorted)
	c.emit("assignment_run", map[string]any{"peers": sorted})
}

func (c *Controller) emit(kind string, fields map[string]any) {
	if c.onEvent != nil {
		c.onEvent(kind, fields)
	}
}

// AddResource inserts the caller-supplied resource id into the store as
// please-assign, timestamped with now, per §6's POST /resource (rid
// minting happens in internal/httpapi, which calls this helper).
func (c *Controller) AddResource(rid string, now time.Time, resourceValue string) {
	c.store.Set("resource:"+rid, store.NewResourceValue(secondsSince(now), store.StatePleaseAssign, resourceValue))
}

// RemoveResource tombstones a resource (DELETE /resource/<rid>).
func (c *Controller) RemoveResource(rid string) {
	c.store.Delete("resource:" + rid)
}

func secondsSince(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
