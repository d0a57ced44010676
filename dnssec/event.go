package dnssec

import (
	"github.com/google/uuid"
	"github.com/miekg/dns"
)

// EventState is the orchestrator's per-event state.
type EventState uint8

const (
	StateInit EventState = iota
	StateNeedKeys
	StateVerifying
	StateDone
)

func (s EventState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateNeedKeys:
		return "need_keys"
	case StateVerifying:
		return "verifying"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event carries one user query (or a dependency fetch spawned to obtain
// keying material) through the orchestrator's state machine.
//
// Child events reference their parent only via a depth counter plus an
// owner id used for log correlation: Event never holds a parent reference,
// so there is nothing for a bounded-depth check to walk except an integer,
// and nothing for a cancelled ancestor to reach back into except the shared
// KeyCache's own wait-list (singleflight, in keycache.go).
type Event struct {
	ID string

	// OriginalQuery is the question the caller asked, immutable for the
	// life of the event.
	OriginalQuery dns.Question

	// CurrentQuery is the question actually in flight - rewritten to a DS
	// or DNSKEY lookup while the orchestrator is in NEED_KEYS.
	CurrentQuery dns.Question

	// Depth counts dependency hops from the originating user request.
	// Bounded by Config.MaxChainDepth; exceeding it is BOGUS with reason
	// max-chain-depth.
	Depth int

	// Owner names the event (or request) that spawned this one, for log
	// correlation only - never dereferenced to reach another Event.
	Owner string

	State EventState

	// Classifier/target-signer/pending-fetch state: a small closed record
	// of per-event validator state, rather than a map of open objects.
	Class  ResponseClass
	Signer string

	// Keys holds the verifying DNSKEY set resolved for Signer, once trusted.
	// Denial-of-existence provers consult it to size the NSEC3 iteration
	// cap to the zone's actual keys rather than the policy table's max.
	Keys []*dns.DNSKEY

	Message *SMessage
}

func newEvent(q dns.Question, depth int, owner string) *Event {
	return &Event{
		ID:            uuid.NewString(),
		OriginalQuery: q,
		CurrentQuery:  q,
		Depth:         depth,
		Owner:         owner,
		State:         StateInit,
	}
}
