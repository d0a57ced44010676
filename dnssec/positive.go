package dnssec

import (
	"encoding/base64"

	"github.com/miekg/dns"

	"github.com/dnsval/stubval/dnssec/doe"
)

// validatePositive handles POSITIVE/ANY responses: every answer RRset is
// verified under the signer zone's keys (already done by the orchestrator
// before this is called); this pass additionally enforces the
// wildcard-expansion rule - at most one wildcard-expanded RRset, and an
// NSEC/NSEC3 proof that the queried name doesn't exist at or below the
// closest encloser other than via that wildcard.
func (cfg *Config) validatePositive(e *Event) {
	msg := e.Message
	qname := e.CurrentQuery.Name

	nsec := doe.NewDenialOfExistenceNSEC(e.Signer, extractNSEC(msg.Ns))
	nsec3, exceeded := cfg.newNSEC3Prover(e.Signer, msg.Ns, e.Keys)

	wildcardSeen := false
	wildcardProven := false

	for _, rs := range msg.Answer {
		if !rs.Wildcard {
			continue
		}

		if wildcardSeen {
			markBogus(msg.Answer, ReasonMultipleWildcardSignatures)
			return
		}
		wildcardSeen = true

		if exceeded {
			continue
		}

		nsecOK := !nsec.Empty() && nsec.ProveExpandedWildcard(qname)
		nsec3OK := !nsec3.Empty() && nsec3.ProveExpandedWildcard(rs.Name, rrsigLabels(rs))

		if nsecOK || nsec3OK {
			wildcardProven = true
		}
	}

	if wildcardSeen && !wildcardProven {
		markBogus(msg.Answer, ReasonDenialInvalid)
	}
}

// validateDelegating handles the delegating-response case: a referral with
// NS records in authority and no answer/SOA. Either signed DS records are
// present (the chain continues below), or an authenticated denial of DS
// existence proves an insecure delegation.
func (cfg *Config) validateDelegating(e *Event) (secure bool, insecure bool) {
	msg := e.Message

	for _, rs := range msg.Ns {
		if rs.Type == dns.TypeDS && rs.Status == Secure {
			return true, false
		}
	}

	var delegationName string
	for _, rs := range msg.Ns {
		if rs.Type == dns.TypeNS {
			delegationName = rs.Name
			break
		}
	}
	if delegationName == "" {
		return false, false
	}

	nsec := doe.NewDenialOfExistenceNSEC(e.Signer, extractNSEC(msg.Ns))
	nsec3, exceeded := cfg.newNSEC3Prover(e.Signer, msg.Ns, e.Keys)
	if exceeded {
		return false, true
	}

	if !nsec.Empty() {
		if nameSeen, typeSeen := nsec.TypeBitMapContainsAnyOf(delegationName, []uint16{dns.TypeNS}); nameSeen && typeSeen {
			if nameSeen, typeSeen = nsec.TypeBitMapContainsAnyOf(delegationName, []uint16{dns.TypeCNAME, dns.TypeDS, dns.TypeSOA}); nameSeen && !typeSeen {
				return false, true
			}
		}
	}

	if !nsec3.Empty() {
		if nameSeen, typeSeen := nsec3.TypeBitMapContainsAnyOf(delegationName, []uint16{dns.TypeNS}); nameSeen && typeSeen {
			if nameSeen, typeSeen = nsec3.TypeBitMapContainsAnyOf(delegationName, []uint16{dns.TypeCNAME, dns.TypeDS, dns.TypeSOA}); nameSeen && !typeSeen {
				return false, true
			}
		}

		if _, _, haveEncloser := nsec3.FindClosestEncloser(delegationName); haveEncloser {
			if optedOut, _ := nsec3.ProveNoDS(delegationName); optedOut {
				return false, true
			}
		}
	}

	return false, false
}

func markBogus(rrsets []*RRset, reason Reason) {
	for _, rs := range rrsets {
		if rs.Wildcard {
			rs.setStatus(Bogus, reason)
		}
	}
}

func extractNSEC(rrs []*RRset) []*dns.NSEC {
	var out []*dns.NSEC
	for _, rs := range rrs {
		if rs.Type != dns.TypeNSEC {
			continue
		}
		for _, rr := range rs.RRs {
			if n, ok := rr.(*dns.NSEC); ok {
				out = append(out, n)
			}
		}
	}
	return out
}

func extractNSEC3(rrs []*RRset) []*dns.NSEC3 {
	var out []*dns.NSEC3
	for _, rs := range rrs {
		if rs.Type != dns.TypeNSEC3 {
			continue
		}
		for _, rr := range rs.RRs {
			if n, ok := rr.(*dns.NSEC3); ok {
				out = append(out, n)
			}
		}
	}
	return out
}

// doeNSEC builds a doe.DenialOfExistenceNSEC from an authority section.
func doeNSEC(zone string, section []*RRset) *doe.DenialOfExistenceNSEC {
	return doe.NewDenialOfExistenceNSEC(zone, extractNSEC(section))
}

// newNSEC3Prover builds a doe.DenialOfExistenceNSEC3 bounded by the
// iterations cap appropriate for keys, the verifying keyset actually in use
// for zone.
func (cfg *Config) newNSEC3Prover(zone string, section []*RRset, keys []*dns.DNSKEY) (*doe.DenialOfExistenceNSEC3, bool) {
	records := extractNSEC3(section)
	maxIterations := 0
	if bits, ok := cfg.maxIterationsFor(minKeySizeBits(cfg, keys)); ok {
		maxIterations = bits
	}
	return doe.NewDenialOfExistenceNSEC3(zone, records, maxIterations)
}

// minKeySizeBits returns the smallest key size among keys that this engine
// knows how to measure, so the iterations cap tracks the weakest key
// actually verifying the zone rather than the table's largest bound. Falls
// back to the table's largest bound when keys is empty or no key's size can
// be determined, so the check never rejects valid records it has no
// key-size evidence against.
func minKeySizeBits(cfg *Config, keys []*dns.DNSKEY) int {
	smallest := -1
	for _, k := range keys {
		bits, ok := dnskeyBits(k)
		if !ok {
			continue
		}
		if smallest == -1 || bits < smallest {
			smallest = bits
		}
	}
	if smallest >= 0 {
		return smallest
	}

	table := cfg.Nsec3IterationsTable
	if len(table) == 0 {
		table = defaultNsec3IterationsTable
	}
	max := 0
	for _, e := range table {
		if e.KeySizeBits > max {
			max = e.KeySizeBits
		}
	}
	return max
}

// dnskeyBits reports a DNSKEY's key size in bits, for the algorithms this
// engine can measure without the dns library's unexported
// crypto.PublicKey conversion.
func dnskeyBits(k *dns.DNSKEY) (int, bool) {
	switch k.Algorithm {
	case dns.RSASHA1, dns.RSASHA1NSEC3SHA1, dns.RSASHA256, dns.RSASHA512:
		return rsaModulusBits(k.PublicKey)
	case dns.ECDSAP256SHA256:
		return 256, true
	case dns.ECDSAP384SHA384:
		return 384, true
	case dns.ED25519:
		return 256, true
	default:
		return 0, false
	}
}

// rsaModulusBits decodes the RFC 3110 wire format of an RSA DNSKEY's public
// key field to recover the modulus size in bits.
func rsaModulusBits(publicKey string) (int, bool) {
	buf, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(buf) < 3 {
		return 0, false
	}

	explen, keyoff := int(buf[0]), 1
	if explen == 0 {
		explen = int(buf[1])<<8 | int(buf[2])
		keyoff = 3
	}
	if explen <= 0 || keyoff+explen >= len(buf) {
		return 0, false
	}
	return (len(buf) - keyoff - explen) * 8, true
}

func rrsigLabels(rs *RRset) uint8 {
	if len(rs.RRSIGs) == 0 {
		return 0
	}
	return rs.RRSIGs[0].Labels
}
