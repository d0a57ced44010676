package doe

import (
	"slices"

	"github.com/miekg/dns"
)

// ProveNameError proves NXDOMAIN: some NSEC owner-to-next interval strictly
// contains qname, and no wildcard immediately below the closest encloser
// could have matched either.
func (doe *DenialOfExistenceNSEC) ProveNameError(qname string) bool {
	return !doe.Empty() && doe.verifyQNameCovered(qname) && doe.verifyWildcardCovered(qname)
}

// ProveExpandedWildcard proves that a wildcard-expanded answer was the
// correct (closest) wildcard to use: qname itself must be covered, but no
// NSEC may additionally cover the generating wildcard name (since that would
// mean a more specific wildcard, not this one, should have matched).
func (doe *DenialOfExistenceNSEC) ProveExpandedWildcard(qname string) bool {
	return !doe.Empty() && doe.verifyQNameCovered(qname) && !doe.verifyWildcardCovered(qname)
}

// verifyQNameCovered reports whether qname falls strictly between some
// NSEC's owner and its next field, in canonical order. Wrap-around at the
// zone apex is detected via signer-name equality with `next` - RFC 4035
// does not mandate the apex appear as `next`, but this proxy is kept for
// compatibility with resolvers that rely on it.
func (doe *DenialOfExistenceNSEC) verifyQNameCovered(qname string) bool {
	qname = dns.CanonicalName(qname)

	for _, nsec := range doe.records {
		afterOwner := canonicalCmp(nsec.Header().Name, qname) < 0
		beforeNext := dns.CanonicalName(nsec.NextDomain) == doe.zone || canonicalCmp(qname, nsec.NextDomain) < 0

		if afterOwner && beforeNext {
			return true
		}
	}

	return false
}

func (doe *DenialOfExistenceNSEC) verifyWildcardCovered(qname string) bool {
	qname = dns.CanonicalName(qname)
	wildcard := wildcardName(qname)

	for _, nsec := range doe.records {
		afterOwner := canonicalCmp(nsec.Header().Name, wildcard) < 0
		beforeNext := dns.CanonicalName(nsec.NextDomain) == doe.zone || canonicalCmp(wildcard, nsec.NextDomain) < 0

		if afterOwner && beforeNext {
			return true
		}
	}

	return false
}

// TypeBitMapContainsAnyOf reports whether an NSEC owned by name exists
// (nameSeen) and, if so, whether its type bitmap contains any of types.
func (doe *DenialOfExistenceNSEC) TypeBitMapContainsAnyOf(name string, types []uint16) (nameSeen, typeSeen bool) {
	name = dns.CanonicalName(name)
	for _, nsec := range doe.records {
		if name != dns.CanonicalName(nsec.Header().Name) {
			continue
		}

		nameSeen = true

		for _, t := range types {
			if slices.Contains(nsec.TypeBitMap, t) {
				return nameSeen, true
			}
		}
	}

	return nameSeen, false
}

func (doe *DenialOfExistenceNSEC) hasType(name string, t uint16) bool {
	_, seen := doe.TypeBitMapContainsAnyOf(name, []uint16{t})
	return seen
}

// ProveNoData proves NODATA for (qname, qtype): either an NSEC owned by
// qname whose bitmap excludes qtype, CNAME, DNAME, and (NS without SOA); or
// an empty-non-terminal case where some NSEC's next is a strict subdomain
// of qname with owner < qname.
func (doe *DenialOfExistenceNSEC) ProveNoData(qname string, qtype uint16) bool {
	qname = dns.CanonicalName(qname)

	nameSeen, typeSeen := doe.TypeBitMapContainsAnyOf(qname, []uint16{qtype, dns.TypeCNAME, dns.TypeDNAME})
	if nameSeen && !typeSeen {
		if hasNS, hasSOA := doe.hasType(qname, dns.TypeNS), doe.hasType(qname, dns.TypeSOA); hasNS && !hasSOA {
			return false
		}
		return true
	}

	for _, nsec := range doe.records {
		next := dns.CanonicalName(nsec.NextDomain)
		if canonicalCmp(nsec.Header().Name, qname) >= 0 {
			continue
		}
		if next != qname && dns.IsSubDomain(qname, next) {
			return true
		}
	}

	return false
}

// ProveNoDS proves the no-DS / insecure-delegation case: an NSEC owned by
// qname whose bitmap has NS but lacks both DS and SOA. Presence of SOA or
// DS is bogus (the cut was mislabeled); absence of NS proves nothing.
func (doe *DenialOfExistenceNSEC) ProveNoDS(qname string) (proven, bogus bool) {
	qname = dns.CanonicalName(qname)

	nameSeen, hasDSOrSOA := doe.TypeBitMapContainsAnyOf(qname, []uint16{dns.TypeDS, dns.TypeSOA})
	if !nameSeen {
		return false, false
	}
	if hasDSOrSOA {
		return false, true
	}
	if !doe.hasType(qname, dns.TypeNS) {
		return false, false
	}
	return true, false
}
