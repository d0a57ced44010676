package dnssec

import "github.com/miekg/dns"

// RRset is the unit of signing and of security labeling: a set of records
// sharing owner/class/type, plus whatever RRSIGs covered them in the message
// they arrived in, and the accumulated verdict for that set.
type RRset struct {
	Name  string
	Class uint16
	Type  uint16
	TTL   uint32

	RRs    []dns.RR
	RRSIGs []*dns.RRSIG

	Status SecurityStatus
	Reason Reason

	// Signer is the zone name resolved for this RRset by the signer
	// resolver; empty if the RRset carries no RRSIG.
	Signer string

	// Wildcard is set once the RRset Verifier determines this RRset was
	// wildcard-expanded (RRSIG label count below the owner's label count,
	// the root label not counted).
	Wildcard     bool
	WildcardName string
}

// setStatus applies the upgrade-only rule: an RRset's status may only move
// up the lattice, with one exception: Bogus replaces any other status.
func (r *RRset) setStatus(status SecurityStatus, reason Reason) {
	if status > r.Status {
		r.Status = status
		r.Reason = reason
	} else if status == Bogus && r.Status != Bogus {
		// Bogus always takes priority, whatever the current rank, so a
		// failed proof can override an earlier verdict, Secure included.
		r.Status = status
		r.Reason = reason
	}
}

// rrsetsFromSection groups wire-format records sharing owner/type/class into
// RRsets, pairing attached RRSIGs onto the set(s) they cover.
func rrsetsFromSection(rrs []dns.RR) []*RRset {
	type key struct {
		name  string
		rtype uint16
		class uint16
	}

	order := make([]key, 0, len(rrs))
	sets := make(map[key]*RRset)

	for _, rr := range rrs {
		if sig, ok := rr.(*dns.RRSIG); ok {
			k := key{name: canonicalName(sig.Header().Name), rtype: sig.TypeCovered, class: sig.Header().Class}
			s, found := sets[k]
			if !found {
				s = &RRset{Name: k.name, Type: k.rtype, Class: k.class, TTL: sig.OrigTtl}
				sets[k] = s
				order = append(order, k)
			}
			s.RRSIGs = append(s.RRSIGs, sig)
			continue
		}

		h := rr.Header()
		k := key{name: canonicalName(h.Name), rtype: h.Rrtype, class: h.Class}
		s, found := sets[k]
		if !found {
			s = &RRset{Name: k.name, Type: k.rtype, Class: k.class, TTL: h.Ttl}
			sets[k] = s
			order = append(order, k)
		}
		s.RRs = append(s.RRs, rr)
		if h.Ttl < s.TTL || len(s.RRs) == 1 {
			s.TTL = min32(s.TTL, h.Ttl)
		}
	}

	out := make([]*RRset, 0, len(order))
	for _, k := range order {
		out = append(out, sets[k])
	}
	return out
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// SMessage is the validated view of a DNS response: four section-lists of
// RRsets, the rcode/flags, and an overall status derived by merging every
// RRset's status.
type SMessage struct {
	Question []dns.Question
	Answer   []*RRset
	Ns       []*RRset
	Extra    []*RRset

	Rcode int

	Status SecurityStatus
	Reason Reason

	// AD reports the authenticated-data bit to set on the reply sent to the
	// original caller; true iff Status == Secure.
	AD bool
}

// NewSMessage groups an upstream *dns.Msg's sections into RRsets.
func NewSMessage(msg *dns.Msg) *SMessage {
	return &SMessage{
		Question: msg.Question,
		Answer:   rrsetsFromSection(msg.Answer),
		Ns:       rrsetsFromSection(msg.Ns),
		Extra:    rrsetsFromSection(msg.Extra),
		Rcode:    msg.Rcode,
	}
}

// merge folds every section's RRset status into the message's overall
// status via a monotone-minimum rule: per-RRset status is computed locally
// and merged into the SMessage as the lattice minimum across all sections.
// Extra is excluded: it carries pseudo-records (OPT, TSIG) rather than
// signed answer/authority data, and is left at its default Unchecked status.
func (m *SMessage) merge() {
	status := Secure
	reason := ReasonNone
	any := false
	for _, sections := range [][]*RRset{m.Answer, m.Ns} {
		for _, rs := range sections {
			any = true
			if rs.Status < status {
				status = rs.Status
				reason = rs.Reason
			}
		}
	}
	if !any {
		status = Insecure
	}
	m.Status = status
	m.Reason = reason
	m.AD = status == Secure
}

// reply materializes the final wire-format response: BOGUS synthesizes
// SERVFAIL preserving the question, INSECURE passes the original message
// through with AD=0, SECURE sets AD=1.
func (m *SMessage) reply(original *dns.Msg) *dns.Msg {
	out := original.Copy()
	out.AuthenticatedData = false

	switch m.Status {
	case Secure:
		out.AuthenticatedData = true
	case Bogus:
		out.Rcode = dns.RcodeServerFailure
		out.Answer = nil
		out.Ns = nil
		out.Extra = nil
	}

	return out
}
