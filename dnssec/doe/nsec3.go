package doe

import (
	"slices"

	"github.com/miekg/dns"
)

// FindClosestEncloser finds the longest ancestor of qname whose hashed name
// matches some NSEC3 owner, together with the "next closer name" - the label
// of qname immediately below that encloser. Per RFC 5155 §8.3, an owner is
// ineligible as a closest encloser if its DNAME bit is set, or if its NS bit
// is set without its SOA bit also set (that would make it an unsigned
// delegation's NSEC3, not proof the validator's zone is authoritative for
// the gap).
func (doe *DenialOfExistenceNSEC3) FindClosestEncloser(qname string) (closestEncloser, nextCloserName string, ok bool) {
	type contender struct{ ce, ncn string }

	var best *contender

	for _, nsec3 := range doe.records {
		last := 0
		for _, idx := range dns.Split(qname) {
			name := qname[idx:]

			if !dns.IsSubDomain(doe.zone, name) {
				break
			}

			if nsec3.Match(name) {
				if slices.Contains(nsec3.TypeBitMap, dns.TypeDNAME) {
					continue
				}
				if slices.Contains(nsec3.TypeBitMap, dns.TypeNS) && !slices.Contains(nsec3.TypeBitMap, dns.TypeSOA) {
					continue
				}

				if best == nil || len(name) > len(best.ce) {
					best = &contender{ce: name, ncn: qname[last:]}
				}
				break
			}
			last = idx
		}
	}

	if best == nil {
		return "", "", false
	}
	return best.ce, best.ncn, true
}

// closestEncloserProof runs the closest-encloser proof: a qualifying
// closest encloser, plus an NSEC3 covering its immediate next closer name.
// optedOut reports whether that covering NSEC3 carries the opt-out flag.
func (doe *DenialOfExistenceNSEC3) closestEncloserProof(name string) (optedOut, haveEncloser, haveNextCloser bool) {
	if doe.Empty() {
		return
	}

	_, nextCloserName, ok := doe.FindClosestEncloser(name)
	if !ok {
		return
	}

	haveEncloser = true
	optedOut, haveNextCloser = doe.coversNextCloser(nextCloserName)
	return
}

func (doe *DenialOfExistenceNSEC3) coversWildcard(closestEncloser string) (covered bool) {
	wildcard := "*." + closestEncloser
	for _, nsec3 := range doe.records {
		if nsec3.Match(wildcard) {
			return false
		}
		if nsec3.Cover(wildcard) {
			covered = true
		}
	}
	return
}

func (doe *DenialOfExistenceNSEC3) matchesWildcard(closestEncloser string) bool {
	wildcard := "*." + closestEncloser
	for _, nsec3 := range doe.records {
		if nsec3.Match(wildcard) {
			return true
		}
	}
	return false
}

func (doe *DenialOfExistenceNSEC3) coversNextCloser(nextCloserName string) (optedOut, covered bool) {
	for _, nsec3 := range doe.records {
		if nsec3.Match(nextCloserName) {
			return false, false
		}
		if nsec3.Cover(nextCloserName) {
			covered = true
			optedOut = optedOut || nsec3.Flags == 1
		}
	}
	return
}

// TypeBitMapContainsAnyOf reports whether an NSEC3 matching the hash of name
// exists (nameSeen) and, if so, whether its type bitmap contains any of
// types.
func (doe *DenialOfExistenceNSEC3) TypeBitMapContainsAnyOf(name string, types []uint16) (nameSeen, typeSeen bool) {
	for _, nsec3 := range doe.records {
		if !nsec3.Match(name) {
			continue
		}

		nameSeen = true

		for _, t := range types {
			if slices.Contains(nsec3.TypeBitMap, t) {
				return nameSeen, true
			}
		}
	}

	return nameSeen, false
}

// ProveNameError proves NXDOMAIN: a closest-encloser proof for qname, plus
// an NSEC3 covering the generating wildcard `*.<closestEncloser>`.
func (doe *DenialOfExistenceNSEC3) ProveNameError(qname string) bool {
	_, haveEncloser, haveNextCloser := doe.closestEncloserProof(qname)
	if !haveEncloser || !haveNextCloser {
		return false
	}
	closestEncloser, _, _ := doe.FindClosestEncloser(qname)
	return doe.coversWildcard(closestEncloser)
}

// ProveExpandedWildcard proves a wildcard-expanded positive answer was
// correctly generated (RFC 5155 §7.2.6/§8.8): ownerName is the owner of the
// expanded RRset and rrsigLabels the label count of its RRSIG. The closest
// encloser is the ancestor of ownerName with rrsigLabels labels and the next
// closer name the ancestor one label longer; the proof requires an NSEC3
// covering the next closer name, with no NSEC3 proving a more specific
// wildcard exists.
func (doe *DenialOfExistenceNSEC3) ProveExpandedWildcard(ownerName string, rrsigLabels uint8) bool {
	labelIdx := dns.Split(ownerName)
	ceIdx := len(labelIdx) - int(rrsigLabels)
	if ceIdx <= 0 || ceIdx > len(labelIdx) {
		return false
	}

	closestEncloser := ownerName[labelIdx[ceIdx]:]
	nextCloserName := ownerName[labelIdx[ceIdx-1]:]

	moreSpecificWildcardExists := doe.coversWildcard(closestEncloser) || doe.matchesWildcard(closestEncloser)
	_, nextCloserCovered := doe.coversNextCloser(nextCloserName)

	return !moreSpecificWildcardExists && nextCloserCovered
}

// ProveNoData proves NODATA for (qname, qtype): an NSEC3 whose hashed owner
// matches qname with a bitmap excluding qtype and CNAME. For
// qtype == DS, a closest-encloser proof plus an NSEC3 for the wildcard
// `*.E` excluding DS is also accepted (wildcard-NODATA for a no-DS query).
func (doe *DenialOfExistenceNSEC3) ProveNoData(qname string, qtype uint16) bool {
	if nameSeen, typeSeen := doe.TypeBitMapContainsAnyOf(qname, []uint16{qtype, dns.TypeCNAME}); nameSeen {
		return !typeSeen
	}

	if qtype != dns.TypeDS {
		return false
	}

	_, haveEncloser, haveNextCloser := doe.closestEncloserProof(qname)
	if !haveEncloser || !haveNextCloser {
		return false
	}
	closestEncloser, _, _ := doe.FindClosestEncloser(qname)
	wildcard := "*." + closestEncloser
	nameSeen, typeSeen := doe.TypeBitMapContainsAnyOf(wildcard, []uint16{dns.TypeDS})
	return nameSeen && !typeSeen
}

// ProveNoDS proves the no-DS case at a delegation point: a closest-encloser
// proof of qname's parent, with the NSEC3 covering the next closer name.
// optedOut reports an opt-out span (INSECURE); otherwise NODATA rules for
// DS apply at the matched owner.
func (doe *DenialOfExistenceNSEC3) ProveNoDS(qname string) (optedOut, proven bool) {
	optedOut, haveEncloser, haveNextCloser := doe.closestEncloserProof(qname)
	if optedOut && haveEncloser {
		return true, true
	}
	if !haveEncloser || !haveNextCloser {
		return false, false
	}
	return false, doe.ProveNoData(qname, dns.TypeDS)
}
