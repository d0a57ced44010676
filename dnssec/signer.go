package dnssec

// resolveSigner finds the zone name whose keys are expected to sign an
// NXDOMAIN/NODATA denial, by inspecting the NSEC/NSEC3 RRSIG signer name in
// authority. Returns "" if the response is unsigned. POSITIVE/CNAME/ANY
// answers resolve their signer(s) per-group instead, via
// groupAnswerBySigner/verifyAnswerChain.
func resolveSigner(msg *SMessage, class ResponseClass, qname string) string {
	if class != ClassNXDOMAIN && class != ClassNODATA {
		return ""
	}
	for _, rs := range msg.Ns {
		if rs.Type != 47 /* NSEC */ && rs.Type != 50 /* NSEC3 */ {
			continue
		}
		if s, ok := firstSigner(rs); ok {
			return s
		}
	}
	return ""
}

func firstSigner(rs *RRset) (string, bool) {
	if len(rs.RRSIGs) == 0 {
		return "", false
	}
	return canonicalName(rs.RRSIGs[0].SignerName), true
}

// signerGroup is a contiguous run of an Answer section's RRsets sharing one
// signer zone. signer is "" for a run of unsigned RRsets.
type signerGroup struct {
	signer string
	rrsets []*RRset
}

// groupAnswerBySigner splits an Answer section into per-signer-zone groups,
// in section order, so a CNAME chain whose target is signed by a different
// zone than its alias gets each RRset checked against its own zone's keys
// instead of all being forced under one signer.
func groupAnswerBySigner(answer []*RRset) []signerGroup {
	var groups []signerGroup
	for _, rs := range answer {
		signer, _ := firstSigner(rs)
		if len(groups) > 0 && groups[len(groups)-1].signer == signer {
			g := &groups[len(groups)-1]
			g.rrsets = append(g.rrsets, rs)
			continue
		}
		groups = append(groups, signerGroup{signer: signer, rrsets: []*RRset{rs}})
	}
	return groups
}
