// Package election implements leader election piggy-backed on the
// replicated store, using three reserved keys per peer (prio, vote,
// leader). Grounded on original_source/fechter/keystore.py's
// _LeaderElectionProtocol (wrapping txgossip.recipies.LeaderElectionMixin).
package election

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"outrigger/internal/assign"
)

// DefaultVoteDelay matches the Python original's vote_delay=2 (seconds).
const DefaultVoteDelay = 2 * time.Second

// Reserved store keys this package owns, gossiped per-peer by the gossip
// layer's per-peer key view (see internal/store's reserved-key handling).
const (
	KeyPrio   = "prio"
	KeyVote   = "vote"
	KeyLeader = "leader"
)

// PeerView is the minimal surface the election needs from the gossip layer:
// the live-peer set and each live peer's last-known value for a given key.
type PeerView interface {
	LivePeers() []string
	PeerValue(peer, key string) (string, bool)
}

// ResultFunc is invoked whenever an election concludes or its outcome
// changes, delivering leader_elected(is_leader, leader) from the base spec.
type ResultFunc func(isLeader bool, leader string)

// Election owns the prio/vote/leader keys for self and computes the
// cluster's leader from the live peer set's published votes.
type Election struct {
	mu   sync.Mutex
	self string
	prio int
	view PeerView

	publish  func(key, value string)
	onResult ResultFunc

	timer     *time.Timer
	voteDelay time.Duration

	// unknown is true before the first election completes: is_leader is
	// "unknown", distinct from false, and the controller must not act on
	// assignment-related events while it holds.
	unknown  bool
	isLeader bool
	leader   string
}

// New creates an Election for self with the given priority (lower wins,
// ties broken by name) and vote delay. publish writes a string value to a
// reserved store key (wired to the store/gossip layer by the caller).
func New(self string, prio int, voteDelay time.Duration, view PeerView, publish func(key, value string), onResult ResultFunc) *Election {
	if voteDelay <= 0 {
		voteDelay = DefaultVoteDelay
	}
	return &Election{
		self:      self,
		prio:      prio,
		view:      view,
		publish:   publish,
		onResult:  onResult,
		voteDelay: voteDelay,
		unknown:   true,
	}
}

// Start publishes this peer's priority and arms the initial vote timer.
func (e *Election) Start() {
	e.publish(KeyPrio, strconv.Itoa(e.prio))
	e.arm()
}

// IsLeader reports the current belief. ok is false before the first
// election completes (the base spec's "unknown" state).
func (e *Election) IsLeader() (isLeader bool, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader, !e.unknown
}

// Leader returns the name of the believed leader, or "" if none.
func (e *Election) Leader() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

// HandleChange offers a store change event to the election. Returns true
// if the key was one of the election's own keys (the event is then fully
// consumed: the protocol controller must not process it further).
func (e *Election) HandleChange(key string) bool {
	switch key {
	case KeyPrio, KeyVote, KeyLeader:
		e.arm()
		return true
	default:
		return false
	}
}

// PeerAlive re-arms the election in reaction to a peer joining the live set.
func (e *Election) PeerAlive(peer string) { e.arm() }

// PeerDead re-arms the election in reaction to a peer leaving the live set.
// The Python original's FechterProtocol.peer_dead erroneously forwarded to
// peer_alive; DESIGN.md's Open Question decision #1 fixes that here.
func (e *Election) PeerDead(peer string) { e.arm() }

// Tick runs one round of the election synchronously, bypassing the
// vote-delay timer. Exported for tests that need a deterministic election
// outcome without waiting out a real or even zero-length timer fire.
func (e *Election) Tick() { e.tick() }

// arm (re)starts the vote-delay timer; when it fires the election
// recomputes and publishes a vote, then checks for quorum.
func (e *Election) arm() {
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.voteDelay, e.tick)
	e.mu.Unlock()
}

// tick runs one round of the election: vote for the lowest-prio live peer,
// then check whether a quorum of live peers agree with that choice.
func (e *Election) tick() {
	live := dedupe(append([]string{e.self}, e.view.LivePeers()...))

	candidate := e.lowestPrioPeer(live)
	e.publish(KeyVote, candidate)

	votes := map[string]int{}
	for _, peer := range live {
		var vote string
		if peer == e.self {
			vote = candidate
		} else {
			v, ok := e.view.PeerValue(peer, KeyVote)
			if !ok {
				continue
			}
			vote = v
		}
		votes[vote]++
	}

	quorum := len(live)/2 + 1
	var winner string
	for peer, count := range votes {
		if count >= quorum {
			winner = peer
			break
		}
	}
	if winner == "" {
		return
	}

	e.mu.Lock()
	changed := e.unknown || e.leader != winner || e.isLeader != (winner == e.self)
	e.unknown = false
	e.leader = winner
	e.isLeader = winner == e.self
	isLeader := e.isLeader
	e.mu.Unlock()

	if changed {
		e.publish(KeyLeader, winner)
		if e.onResult != nil {
			e.onResult(isLeader, winner)
		}
	}
}

// lowestPrioPeer picks the live peer with the lowest prio, name as tiebreak.
func (e *Election) lowestPrioPeer(live []string) string {
	sorted := make([]string, len(live))
	copy(sorted, live)
	sort.Strings(sorted)

	best := sorted[0]
	bestPrio := e.prioOf(best)
	for _, peer := range sorted[1:] {
		if p := e.prioOf(peer); p < bestPrio {
			best = peer
			bestPrio = p
		}
	}
	return best
}

func (e *Election) prioOf(peer string) int {
	if peer == e.self {
		return e.prio
	}
	v, ok := e.view.PeerValue(peer, KeyPrio)
	if !ok {
		return 1 << 30 // unknown priority sorts last
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 1 << 30
	}
	return n
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// EligiblePeers filters live peers to those whose effective status is up
// (via statusUp) plus self if self is up, sorted by stable hash per §4.3.
func EligiblePeers(self string, selfUp bool, live []string, statusUp func(peer string) bool) []string {
	var peers []string
	for _, p := range live {
		if statusUp(p) {
			peers = append(peers, p)
		}
	}
	if selfUp {
		peers = append(peers, self)
	}
	return assign.SortPeersByHash(peers)
}
