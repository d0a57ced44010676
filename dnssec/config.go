package dnssec

import (
	"time"

	"github.com/miekg/dns"
	"github.com/nsmithuk/dnssec-root-anchors-go/anchors"
)

// IterationsLimit is one entry of the val-nsec3-keysize-iterations table:
// the maximum number of NSEC3 hash iterations permitted for a DNSKEY of at
// least KeySizeBits, matching Unbound's policy table.
type IterationsLimit struct {
	KeySizeBits  int
	MaxIterations int
}

// defaultNsec3IterationsTable mirrors Unbound's built-in
// val-nsec3-keysize-iterations default.
var defaultNsec3IterationsTable = []IterationsLimit{
	{KeySizeBits: 1024, MaxIterations: 150},
	{KeySizeBits: 2048, MaxIterations: 500},
	{KeySizeBits: 4096, MaxIterations: 2500},
}

// defaultDigestPreference orders DS digest algorithms most-preferred first,
// per the val-digest-preference knob.
var defaultDigestPreference = []uint8{dns.SHA384, dns.SHA256, dns.SHA1}

// Config carries the per-validator-instance policy knobs and resource
// bounds. It is an explicit value passed into the orchestrator/cache
// constructors rather than mutable package-level vars, since multiple
// validators (e.g. one per test case) must not share mutable global state.
type Config struct {
	// TrustAnchors seed the key cache as SECURE at startup. May be DS or
	// DNSKEY RRsets; DS anchors are resolved into a trusted keyset on first
	// use.
	TrustAnchors []dns.RR

	// ValOverrideDate, if non-nil, overrides wall-clock for RRSIG
	// inception/expiration checks. Corresponds to val-override-date.
	ValOverrideDate *time.Time

	// Nsec3IterationsTable is the keysize -> max-iterations policy table.
	// Entries need not be sorted; the highest bound whose KeySizeBits <= the
	// key in use is selected.
	Nsec3IterationsTable []IterationsLimit

	// DigestPreference orders DS digest algorithm IDs most-preferred first.
	DigestPreference []uint8

	// HardenAlgoDowngrade requires every DS algorithm present for a zone to
	// be both supported and matched by a verifying DNSKEY; otherwise BOGUS
	// rather than a null (insecure) KeyEntry. Matches RFC 6840 §5.11.
	HardenAlgoDowngrade bool

	// RequireAllSignaturesValid, if true, requires every RRSIG attached to
	// an RRset to independently verify rather than accepting the first
	// verifying signature, an explicit RFC 4035 §5.3.3 policy choice.
	RequireAllSignaturesValid bool

	// MaxChainDepth bounds CNAME/delegation chain traversal; exceeding it
	// yields BOGUS with reason max-chain-depth.
	MaxChainDepth int

	// MaxQueriesPerRequest is loaded and stored with the other limits; the
	// orchestrator and key cache do not count or limit the upstream queries
	// a request triggers, so it has no effect on validation.
	MaxQueriesPerRequest int

	// KeyCacheSize bounds the number of zones held in the key-entry cache;
	// the least-recently-used entry is evicted once exceeded.
	KeyCacheSize int

	// KeyCacheNegativeTTL is the short TTL applied to a cached bad KeyEntry:
	// failed verifications cache a bad entry with a short negative TTL
	// rather than retrying immediately on every query.
	KeyCacheNegativeTTL time.Duration
}

const (
	DefaultMaxChainDepth         = 32
	DefaultMaxQueriesPerRequest  = 100
	DefaultKeyCacheSize          = 10_000
	DefaultKeyCacheNegativeTTL   = 30 * time.Second
	DefaultHardenAlgoDowngrade   = false
	DefaultRequireAllSignatures  = false
)

// DefaultConfig returns a Config seeded with the IANA root trust anchor (via
// nsmithuk/dnssec-root-anchors-go) and the default resource bounds/policy
// tables.
func DefaultConfig() *Config {
	return &Config{
		TrustAnchors:              rootTrustAnchors(),
		Nsec3IterationsTable:       append([]IterationsLimit(nil), defaultNsec3IterationsTable...),
		DigestPreference:          append([]uint8(nil), defaultDigestPreference...),
		HardenAlgoDowngrade:       DefaultHardenAlgoDowngrade,
		RequireAllSignaturesValid: DefaultRequireAllSignatures,
		MaxChainDepth:             DefaultMaxChainDepth,
		MaxQueriesPerRequest:      DefaultMaxQueriesPerRequest,
		KeyCacheSize:              DefaultKeyCacheSize,
		KeyCacheNegativeTTL:       DefaultKeyCacheNegativeTTL,
	}
}

func rootTrustAnchors() []dns.RR {
	valid := anchors.GetValid()
	rr := make([]dns.RR, 0, len(valid))
	for _, a := range valid {
		rr = append(rr, a)
	}
	return rr
}

// now returns the effective wall-clock time for signature-validity checks,
// honouring ValOverrideDate when set.
func (c *Config) now() time.Time {
	if c != nil && c.ValOverrideDate != nil {
		return *c.ValOverrideDate
	}
	return time.Now()
}

// maxIterationsFor returns the iteration ceiling for a DNSKEY of the given
// size, selecting the highest table entry whose KeySizeBits <= size. Returns
// (0, false) if no entry qualifies (e.g. a key smaller than every configured
// bound), which callers must treat conservatively (degrade to INSECURE).
func (c *Config) maxIterationsFor(keySizeBits int) (int, bool) {
	best := -1
	bestKeySize := -1
	table := c.Nsec3IterationsTable
	if len(table) == 0 {
		table = defaultNsec3IterationsTable
	}
	for _, e := range table {
		if e.KeySizeBits <= keySizeBits && e.KeySizeBits > bestKeySize {
			bestKeySize = e.KeySizeBits
			best = e.MaxIterations
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

func (c *Config) digestPreference() []uint8 {
	if len(c.DigestPreference) > 0 {
		return c.DigestPreference
	}
	return defaultDigestPreference
}
