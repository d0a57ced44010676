package dnssec

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"

	applog "github.com/dnsval/stubval/log"
)

// KeyCache is the shared, concurrency-safe cache of per-zone KeyEntry
// values. Bounded by an LRU so a validator under load cannot grow the cache
// without limit, and deduplicated by singleflight so two concurrent events
// fetching the same zone's keying material collapse onto a single upstream
// round-trip (one in-flight fetch per zone).
type KeyCache struct {
	cache *lru.Cache[string, *KeyEntry]
	group singleflight.Group
	cfg   *Config

	// anchorDS holds configured DS-form trust anchors (as opposed to
	// DNSKEY-form anchors, seeded directly into cache). Consulted when a
	// zone has no cached parent entry but is itself a configured anchor.
	anchorDS []*dns.DS
}

func NewKeyCache(cfg *Config) *KeyCache {
	size := cfg.KeyCacheSize
	if size <= 0 {
		size = DefaultKeyCacheSize
	}
	c, _ := lru.New[string, *KeyEntry](size)
	kc := &KeyCache{cache: c, cfg: cfg}
	for _, rr := range cfg.TrustAnchors {
		kc.seedAnchor(rr)
	}
	return kc
}

func cacheKey(zone string, class uint16) string {
	return fmt.Sprintf("%s|%d", canonicalName(zone), class)
}

func (kc *KeyCache) get(zone string, class uint16) (*KeyEntry, bool) {
	e, ok := kc.cache.Get(cacheKey(zone, class))
	if !ok {
		return nil, false
	}
	if e.expired(kc.cfg.now()) {
		kc.cache.Remove(cacheKey(zone, class))
		return nil, false
	}
	return e, true
}

func (kc *KeyCache) put(e *KeyEntry) {
	kc.cache.Add(cacheKey(e.Zone, e.Class), e)
}

// seedAnchor installs a configured trust anchor as a trusted keyset (DNSKEY
// anchors) immediately, or leaves a DS anchor to be resolved into one the
// first time its zone is walked (handled in ensureChain, which treats a
// trust-anchor DS the same as a parent-verified DS).
func (kc *KeyCache) seedAnchor(rr dns.RR) {
	switch a := rr.(type) {
	case *dns.DNSKEY:
		zone := canonicalName(a.Header().Name)
		existing, _ := kc.get(zone, a.Header().Class)
		var keys []*dns.DNSKEY
		if existing != nil && existing.Kind == KeyEntryTrusted {
			keys = existing.DNSKeys
		}
		keys = append(keys, a)
		kc.put(trustedEntry(zone, keys, time.Now().AddDate(100, 0, 0)))
	case *dns.DS:
		kc.anchorDS = append(kc.anchorDS, a)
	}
}

// longestCachedAncestor finds the deepest non-expired KeyEntry covering an
// ancestor of zone.
func (kc *KeyCache) longestCachedAncestor(zone string, class uint16) (string, *KeyEntry) {
	zone = canonicalName(zone)
	labels := dns.CountLabel(zone)
	for depth := labels; depth >= 0; depth-- {
		candidate := ancestorAtDepth(zone, depth)
		if e, ok := kc.get(candidate, class); ok {
			return candidate, e
		}
	}
	return ".", nil
}

// Upstream is the single outbound capability the engine depends on:
// send(query) -> response. The orchestrator and the trust-chain walker are
// the only callers.
type Upstream interface {
	Send(ctx context.Context, q *dns.Msg) (*dns.Msg, error)
}

// ensureChain walks from the longest cached trusted ancestor of zone down
// to zone, issuing DS then DNSKEY queries for each intermediate label and
// verifying each link, caching the result as it goes. Returns the KeyEntry
// now held for zone.
func (kc *KeyCache) ensureChain(ctx context.Context, up Upstream, zone string, class uint16) (*KeyEntry, error) {
	zone = canonicalName(zone)
	log := applog.PrefixedLog("keycache")

	ancestor, entry := kc.longestCachedAncestor(zone, class)

	if namesEqual(ancestor, zone) {
		if entry == nil {
			return nullEntry(zone, ReasonNoTrustAnchor, kc.cfg.now().Add(kc.cfg.KeyCacheNegativeTTL)), nil
		}
		return entry, nil
	}

	if entry == nil {
		return nullEntry(zone, ReasonNoTrustAnchor, kc.cfg.now().Add(kc.cfg.KeyCacheNegativeTTL)), nil
	}
	if entry.Kind != KeyEntryTrusted {
		return entry, nil
	}

	current := ancestor
	currentEntry := entry

	for !namesEqual(current, zone) {
		child, ok := labelBelow(current, zone)
		if !ok {
			child = zone
		}

		if currentEntry.Kind != KeyEntryTrusted {
			return currentEntry, nil
		}

		next, err := kc.stepChild(ctx, up, current, currentEntry, child, class)
		if err != nil {
			log.WithError(err).WithField("zone", child).Warn("chain step failed")
			return nil, err
		}

		kc.put(next)
		current = child
		currentEntry = next
	}

	return currentEntry, nil
}

// stepChild performs one DS-then-DNSKEY hop from a trusted parent down to
// child, deduplicated via singleflight so concurrent events validating the
// same child zone share one upstream round-trip.
func (kc *KeyCache) stepChild(ctx context.Context, up Upstream, parent string, parentEntry *KeyEntry, child string, class uint16) (*KeyEntry, error) {
	key := cacheKey(child, class) + "|step"

	v, err, _ := kc.group.Do(key, func() (interface{}, error) {
		if e, ok := kc.get(child, class); ok {
			return e, nil
		}

		dsMsg := new(dns.Msg)
		dsMsg.SetQuestion(dns.Fqdn(child), dns.TypeDS)
		dsResp, err := up.Send(ctx, dsMsg)
		if err != nil {
			return badEntry(child, ReasonUnreachableUpstream, kc.cfg.now().Add(kc.cfg.KeyCacheNegativeTTL)), nil
		}

		dsSet := NewSMessage(dsResp)
		dsRRset := findRRset(dsSet.Answer, child, dns.TypeDS)

		if dsRRset == nil {
			// Either an authenticated denial (handled by the doe package
			// against dsResp.Ns before calling ensureChain in production
			// flows) or simply absent; conservatively treat as insecure
			// delegation rather than assume BOGUS.
			return nullEntry(child, ReasonDenialMissing, kc.cfg.now().Add(kc.cfg.KeyCacheNegativeTTL)), nil
		}

		kc.cfg.verifyRRset(dsRRset, parentEntry.DNSKeys)
		if dsRRset.Status != Secure {
			return badEntry(child, dsRRset.Reason, kc.cfg.now().Add(kc.cfg.KeyCacheNegativeTTL)), nil
		}

		dsRecords := extractDS(dsRRset.RRs)
		supported := filterSupportedDS(dsRecords, kc.cfg)
		if len(supported) == 0 {
			return nullEntry(child, ReasonNoSupportedDigest, kc.cfg.now().Add(ttlDuration(dsRRset.TTL, 3600))), nil
		}

		dnskeyMsg := new(dns.Msg)
		dnskeyMsg.SetQuestion(dns.Fqdn(child), dns.TypeDNSKEY)
		dnskeyResp, err := up.Send(ctx, dnskeyMsg)
		if err != nil {
			return badEntry(child, ReasonUnreachableUpstream, kc.cfg.now().Add(kc.cfg.KeyCacheNegativeTTL)), nil
		}

		dnskeySet := NewSMessage(dnskeyResp)
		dnskeyRRset := findRRset(dnskeySet.Answer, child, dns.TypeDNSKEY)
		if dnskeyRRset == nil {
			return badEntry(child, ReasonSignatureMissing, kc.cfg.now().Add(kc.cfg.KeyCacheNegativeTTL)), nil
		}

		return kc.verifyNewDNSKEYs(child, dnskeyRRset, supported)
	})
	if err != nil {
		return nil, err
	}
	return v.(*KeyEntry), nil
}

// verifyNewDNSKEYs pairs DS records against candidate DNSKEYs and verifies
// the DNSKEY RRset under any DS that matches by key-tag/algorithm/digest.
func (kc *KeyCache) verifyNewDNSKEYs(zone string, dnskeyRRset *RRset, dsRecords []*dns.DS) (*KeyEntry, error) {
	zoneKeys := extractDNSKEY(dnskeyRRset.RRs)
	if len(zoneKeys) == 0 {
		return badEntry(zone, ReasonSignatureMissing, kc.cfg.now().Add(kc.cfg.KeyCacheNegativeTTL)), nil
	}

	var keySigningKeys []*dns.DNSKEY
	matchedAlgos := map[uint8]bool{}
	dsAlgos := map[uint8]bool{}
	for _, d := range dsRecords {
		dsAlgos[d.Algorithm] = true
		for _, k := range zoneKeys {
			if d.Algorithm == k.Algorithm && d.KeyTag == k.KeyTag() && strings.EqualFold(d.Digest, k.ToDS(d.DigestType).Digest) {
				keySigningKeys = append(keySigningKeys, k)
				matchedAlgos[d.Algorithm] = true
				break
			}
		}
	}

	if len(keySigningKeys) == 0 {
		for a := range dsAlgos {
			if _, ok := dns.AlgorithmToHash[a]; ok {
				return badEntry(zone, ReasonDSMismatch, kc.cfg.now().Add(kc.cfg.KeyCacheNegativeTTL)), nil
			}
		}
		return nullEntry(zone, ReasonUnsupportedAlgorithm, kc.cfg.now().Add(kc.cfg.KeyCacheNegativeTTL)), nil
	}

	if kc.cfg.HardenAlgoDowngrade {
		for a := range dsAlgos {
			if !matchedAlgos[a] {
				return badEntry(zone, ReasonAlgorithmDowngrade, kc.cfg.now().Add(kc.cfg.KeyCacheNegativeTTL)), nil
			}
		}
	}

	kc.cfg.verifyRRset(dnskeyRRset, keySigningKeys)
	if dnskeyRRset.Status != Secure {
		return badEntry(zone, dnskeyRRset.Reason, kc.cfg.now().Add(kc.cfg.KeyCacheNegativeTTL)), nil
	}

	expiry := kc.cfg.now().Add(time.Duration(dnskeyRRset.TTL) * time.Second)
	return trustedEntry(zone, zoneKeys, expiry), nil
}

func findRRset(rrsets []*RRset, owner string, rtype uint16) *RRset {
	for _, rs := range rrsets {
		if rs.Type == rtype && namesEqual(rs.Name, owner) {
			return rs
		}
	}
	return nil
}

func extractDS(rrs []dns.RR) []*dns.DS {
	out := make([]*dns.DS, 0, len(rrs))
	for _, rr := range rrs {
		if d, ok := rr.(*dns.DS); ok {
			out = append(out, d)
		}
	}
	return out
}

func extractDNSKEY(rrs []dns.RR) []*dns.DNSKEY {
	out := make([]*dns.DNSKEY, 0, len(rrs))
	for _, rr := range rrs {
		if k, ok := rr.(*dns.DNSKEY); ok {
			out = append(out, k)
		}
	}
	return out
}

// filterSupportedDS applies val-digest-preference per key: when multiple DS
// digests exist for the same key tag, only that key's most-preferred
// available digest type is kept. Preference is applied within each key-tag
// group independently, so one key's preferred digest can never shadow a
// different key's only DS record (e.g. a dual-KSK zone where one KSK ships
// SHA-256/SHA-384 DS and the other, the one actually signing DNSKEY, ships
// only SHA-1).
func filterSupportedDS(ds []*dns.DS, cfg *Config) []*dns.DS {
	pref := cfg.digestPreference()

	order := make([]uint16, 0, len(ds))
	byKeyTag := map[uint16][]*dns.DS{}
	for _, d := range ds {
		if _, ok := byKeyTag[d.KeyTag]; !ok {
			order = append(order, d.KeyTag)
		}
		byKeyTag[d.KeyTag] = append(byKeyTag[d.KeyTag], d)
	}

	var out []*dns.DS
	for _, tag := range order {
		group := byKeyTag[tag]
		best := -1
		for _, d := range group {
			for i, p := range pref {
				if p == d.DigestType && (best == -1 || i < best) {
					best = i
				}
			}
		}
		if best == -1 {
			continue
		}
		for _, d := range group {
			if d.DigestType == pref[best] {
				out = append(out, d)
			}
		}
	}
	return out
}

func ttlDuration(a uint32, b int) time.Duration {
	if int(a) < b {
		return time.Duration(a) * time.Second
	}
	return time.Duration(b) * time.Second
}
