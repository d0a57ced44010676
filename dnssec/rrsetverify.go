package dnssec

import (
	"github.com/miekg/dns"
)

// verifyRRset selects matching RRSIGs by algorithm/key-tag/signer, checks
// label count and validity window, then hands canonicalization and
// cryptographic verification to the DNS library's own RRSIG.Verify. First
// verifying RRSIG wins, unless RequireAllSignaturesValid demands every
// attached RRSIG verify.
func (cfg *Config) verifyRRset(rs *RRset, keyset []*dns.DNSKEY) {
	if len(rs.RRSIGs) == 0 {
		rs.setStatus(Bogus, ReasonSignatureMissing)
		return
	}

	now := cfg.now()
	anyVerified := false
	allVerified := true
	var lastReason Reason

	for _, rrsig := range rs.RRSIGs {
		if dns.CountLabel(rs.Name) < int(rrsig.Labels) {
			lastReason = ReasonLabelCountInvalid
			allVerified = false
			continue
		}

		if !rrsig.ValidityPeriod(now) {
			lastReason = ReasonSignatureExpired
			allVerified = false
			continue
		}

		if dns.CountLabel(rs.Name) > int(rrsig.Labels) {
			rs.Wildcard = true
			rs.WildcardName = ancestorAtDepth(rs.Name, int(rrsig.Labels)+1)
			rs.WildcardName = wildcardName(rs.WildcardName)
		}

		verified := false
		for _, key := range keyset {
			if key.Algorithm != rrsig.Algorithm || key.KeyTag() != rrsig.KeyTag {
				continue
			}
			if !namesEqual(key.Header().Name, rrsig.SignerName) {
				continue
			}
			if key.Flags&dns.ZONE == 0 {
				lastReason = ReasonKeyNotZoneSigning
				continue
			}

			if err := rrsig.Verify(key, rs.RRs); err == nil {
				verified = true
				rs.Signer = canonicalName(rrsig.SignerName)
				break
			}
			lastReason = ReasonSignatureInvalid
		}

		if verified {
			anyVerified = true
			if !cfg.RequireAllSignaturesValid {
				break
			}
		} else {
			allVerified = false
		}
	}

	switch {
	case cfg.RequireAllSignaturesValid:
		if anyVerified && allVerified {
			rs.setStatus(Secure, ReasonNone)
		} else {
			rs.setStatus(Bogus, orDefault(lastReason, ReasonSignatureInvalid))
		}
	case anyVerified:
		rs.setStatus(Secure, ReasonNone)
	default:
		rs.setStatus(Bogus, orDefault(lastReason, ReasonSignatureInvalid))
	}
}

func orDefault(r, fallback Reason) Reason {
	if r == ReasonNone {
		return fallback
	}
	return r
}
