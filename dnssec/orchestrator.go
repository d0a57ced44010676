package dnssec

import (
	"context"

	"github.com/miekg/dns"

	applog "github.com/dnsval/stubval/log"
)

// Orchestrator is the small per-event state machine that drives
// (dispatch) -> (classify) -> (ensure trust chain) -> (validate) rounds to a
// terminal SecurityStatus. Events carry a depth counter instead of a parent
// pointer, and a closed per-event state struct instead of a map of
// in-flight validators.
type Orchestrator struct {
	cfg      *Config
	keyCache *KeyCache
	upstream Upstream
}

func NewOrchestrator(cfg *Config, upstream Upstream) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		cfg:      cfg,
		keyCache: NewKeyCache(cfg),
		upstream: upstream,
	}
}

// Validate is the primary entry point: it dispatches query to upstream,
// classifies the response, ensures a trust chain to the signer zone, and
// validates, following CNAME hops and DS/DNSKEY dependency fetches up to
// cfg.MaxChainDepth.
func (o *Orchestrator) Validate(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
	if len(query.Question) == 0 {
		return nil, newErr(ReasonMalformedResponse, "", nil)
	}

	e := newEvent(query.Question[0], 0, "")
	log := applog.PrefixedLog("orchestrator")

	raw, err := o.upstream.Send(ctx, query)
	if err != nil {
		log.WithError(err).Warn("upstream unreachable")
		return nil, newErr(ReasonUnreachableUpstream, e.OriginalQuery.Name, err)
	}

	result := o.run(ctx, e, raw)
	reply := result.reply(raw)

	applog.Decision{
		Qname:  e.OriginalQuery.Name,
		Qtype:  dns.TypeToString[e.OriginalQuery.Qtype],
		Zone:   e.Signer,
		Status: result.Status.String(),
		Reason: result.Reason.String(),
	}.Entry("orchestrator").Info("validated")

	return reply, nil
}

// run drives the state machine for a single dispatched response. A
// POSITIVE/CNAME/ANY answer may span more than one signer zone - a CNAME
// chain crossing a zone cut - so its Answer section is split into per-signer
// groups (verifyAnswerChain) and each group consumes one unit of e.Depth
// against cfg.MaxChainDepth; other classes resolve a single signer zone for
// the whole message.
func (o *Orchestrator) run(ctx context.Context, e *Event, raw *dns.Msg) *SMessage {
	if e.Depth > o.cfg.MaxChainDepth {
		msg := &SMessage{Question: []dns.Question{e.OriginalQuery}}
		msg.Answer = append(msg.Answer, &RRset{Status: Bogus, Reason: ReasonMaxChainDepth})
		msg.merge()
		return msg
	}

	e.State = StateVerifying
	msg := NewSMessage(raw)
	e.Message = msg

	e.Class = classify(msg)
	if e.Class == ClassUnknown {
		msg.Answer = append(msg.Answer, &RRset{Status: Bogus, Reason: ReasonUnclassifiable})
		msg.merge()
		e.State = StateDone
		return msg
	}

	e.State = StateNeedKeys

	switch e.Class {
	case ClassPositive, ClassCNAME, ClassANY:
		o.verifyAnswerChain(ctx, e, msg)
	default:
		e.Signer = resolveSigner(msg, e.Class, e.CurrentQuery.Name)

		if e.Signer == "" {
			status, reason := o.unsignedVerdict(ctx, e.CurrentQuery.Name)
			for _, rs := range allSections(msg) {
				rs.setStatus(status, reason)
			}
			msg.merge()
			e.State = StateDone
			return msg
		}

		entry, err := o.keyCache.ensureChain(ctx, o.upstream, e.Signer, dns.ClassINET)
		if err != nil {
			for _, rs := range allSections(msg) {
				rs.setStatus(Bogus, ReasonUnreachableUpstream)
			}
			msg.merge()
			e.State = StateDone
			return msg
		}

		status, reason := entry.status()
		if status != Secure {
			for _, rs := range allSections(msg) {
				rs.setStatus(status, reason)
			}
			msg.merge()
			e.State = StateDone
			return msg
		}

		e.State = StateVerifying
		e.Keys = entry.DNSKeys
		for _, rs := range allSections(msg) {
			if len(rs.RRSIGs) == 0 {
				continue
			}
			o.cfg.verifyRRset(rs, entry.DNSKeys)
		}
	}

	switch e.Class {
	case ClassPositive, ClassCNAME, ClassANY:
		o.cfg.validatePositive(e)
	case ClassNXDOMAIN:
		o.verifyDenial(e, true, 0)
	case ClassNODATA:
		if len(msg.Ns) > 0 && hasType(msg.Ns, dns.TypeNS) && !hasType(msg.Ns, dns.TypeSOA) {
			_, insecure := o.cfg.validateDelegating(e)
			if insecure {
				// An authenticated denial of DS overrides the individually
				// Secure signature check on the NS/NSEC(3) RRsets: the
				// delegation itself is proven insecure, so the message as a
				// whole reports Insecure rather than Secure even though
				// every attached RRSIG verified. This is a deliberate
				// downgrade, not a violation of the per-RRset upgrade-only
				// rule, so it bypasses setStatus directly.
				for _, rs := range allSections(msg) {
					rs.Status = Insecure
					rs.Reason = ReasonNone
				}
			}
		} else {
			o.verifyDenial(e, false, e.CurrentQuery.Qtype)
		}
	}

	msg.merge()
	e.State = StateDone
	return msg
}

// verifyAnswerChain verifies a POSITIVE/CNAME/ANY Answer section one signer
// group at a time: each group re-enters the trust-chain walk for its own
// zone and is verified under that zone's keys alone, so a CNAME target
// signed by a different zone than its alias no longer gets checked against
// the wrong keys. Every group beyond the first consumes one unit of
// e.Depth; once that exceeds cfg.MaxChainDepth, remaining groups are marked
// BOGUS with reason max-chain-depth rather than chased further. e.Signer and
// the Ns/Extra sections end up scoped to the last (deepest) group reached,
// matching the zone that actually produced the final answer.
func (o *Orchestrator) verifyAnswerChain(ctx context.Context, e *Event, msg *SMessage) {
	groups := groupAnswerBySigner(msg.Answer)

	var lastSigner string
	var lastEntry *KeyEntry

	for i, g := range groups {
		if i > 0 {
			e.Depth++
		}
		if e.Depth > o.cfg.MaxChainDepth {
			for _, rest := range groups[i:] {
				markAll(rest.rrsets, Bogus, ReasonMaxChainDepth)
			}
			break
		}

		if g.signer == "" {
			name := e.CurrentQuery.Name
			if len(g.rrsets) > 0 {
				name = g.rrsets[0].Name
			}
			status, reason := o.unsignedVerdict(ctx, name)
			markAll(g.rrsets, status, reason)
			continue
		}

		entry, err := o.keyCache.ensureChain(ctx, o.upstream, g.signer, dns.ClassINET)
		if err != nil {
			markAll(g.rrsets, Bogus, ReasonUnreachableUpstream)
			continue
		}

		status, reason := entry.status()
		if status != Secure {
			markAll(g.rrsets, status, reason)
			continue
		}

		for _, rs := range g.rrsets {
			if len(rs.RRSIGs) == 0 {
				continue
			}
			o.cfg.verifyRRset(rs, entry.DNSKeys)
		}
		lastSigner = g.signer
		lastEntry = entry
	}

	e.Signer = lastSigner
	e.State = StateVerifying
	if lastEntry != nil {
		e.Keys = lastEntry.DNSKeys
	}

	for _, rs := range msg.Ns {
		if len(rs.RRSIGs) == 0 {
			continue
		}
		if lastEntry == nil {
			rs.setStatus(Bogus, ReasonSignatureMissing)
			continue
		}
		o.cfg.verifyRRset(rs, lastEntry.DNSKeys)
	}
	for _, rs := range msg.Extra {
		if len(rs.RRSIGs) == 0 {
			continue
		}
		if lastEntry == nil {
			rs.setStatus(Bogus, ReasonSignatureMissing)
			continue
		}
		o.cfg.verifyRRset(rs, lastEntry.DNSKeys)
	}
}

// unsignedVerdict resolves the "null signer implies unsigned response"
// rule: insecure if the zone is proven unsigned via its parent's DS denial,
// else BOGUS.
func (o *Orchestrator) unsignedVerdict(ctx context.Context, name string) (SecurityStatus, Reason) {
	entry, err := o.keyCache.ensureChain(ctx, o.upstream, name, dns.ClassINET)
	if err != nil {
		return Bogus, ReasonUnreachableUpstream
	}
	if entry.Kind == KeyEntryNull {
		return Insecure, entry.Reason
	}
	return Bogus, ReasonSignatureMissing
}

// verifyDenial dispatches to the NSEC or NSEC3 denial prover depending on
// which record type is present in authority.
func (o *Orchestrator) verifyDenial(e *Event, nameError bool, qtype uint16) {
	msg := e.Message

	hasNSEC3 := hasType(msg.Ns, dns.TypeNSEC3)

	var proven bool
	if hasNSEC3 {
		prover, exceeded := o.cfg.newNSEC3Prover(e.Signer, msg.Ns, e.Keys)
		if exceeded {
			markAll(msg.Ns, Insecure, ReasonNsec3IterationsExceeded)
			return
		}
		if nameError {
			proven = prover.ProveNameError(e.CurrentQuery.Name)
		} else {
			proven = prover.ProveNoData(e.CurrentQuery.Name, qtype)
		}
	} else {
		prover := doeNSEC(e.Signer, msg.Ns)
		if nameError {
			proven = prover.ProveNameError(e.CurrentQuery.Name)
		} else {
			proven = prover.ProveNoData(e.CurrentQuery.Name, qtype)
		}
	}

	if !proven {
		markAll(msg.Ns, Bogus, ReasonDenialMissing)
	}
}

func markAll(rrsets []*RRset, status SecurityStatus, reason Reason) {
	for _, rs := range rrsets {
		rs.setStatus(status, reason)
	}
}

func hasType(rrsets []*RRset, t uint16) bool {
	for _, rs := range rrsets {
		if rs.Type == t {
			return true
		}
	}
	return false
}

func allSections(msg *SMessage) []*RRset {
	out := make([]*RRset, 0, len(msg.Answer)+len(msg.Ns)+len(msg.Extra))
	out = append(out, msg.Answer...)
	out = append(out, msg.Ns...)
	out = append(out, msg.Extra...)
	return out
}
