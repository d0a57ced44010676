// Package doe implements the NSEC and NSEC3 denial-of-existence provers:
// authenticated proofs that a name or type does not exist, built over
// already-verified NSEC/NSEC3 RRsets.
package doe

import (
	"github.com/miekg/dns"
)

// DenialOfExistenceNSEC wraps a zone's NSEC records taken from an authority
// section, already verified SECURE by the caller.
type DenialOfExistenceNSEC struct {
	zone    string
	records []*dns.NSEC
}

func NewDenialOfExistenceNSEC(zone string, records []*dns.NSEC) *DenialOfExistenceNSEC {
	return &DenialOfExistenceNSEC{zone: dns.CanonicalName(zone), records: records}
}

func (doe *DenialOfExistenceNSEC) Empty() bool {
	return len(doe.records) == 0
}

// DenialOfExistenceNSEC3 wraps a zone's NSEC3 records, filtered to those with
// a supported hash algorithm and recognised flag bits, and within the
// configured iterations cap for the keysize in use (the
// val-nsec3-keysize-iterations policy).
type DenialOfExistenceNSEC3 struct {
	zone    string
	records []*dns.NSEC3
}

// NewDenialOfExistenceNSEC3 builds the prover, dropping any NSEC3 whose hash
// algorithm this engine doesn't support, whose flag bits are unrecognised, or
// whose iteration count exceeds maxIterations (pass a negative value to skip
// the iterations check). exceeded reports whether any record was dropped
// purely for exceeding the cap: callers must degrade the overall answer to
// INSECURE in that case rather than attempt a proof.
func NewDenialOfExistenceNSEC3(zone string, records []*dns.NSEC3, maxIterations int) (prover *DenialOfExistenceNSEC3, exceeded bool) {
	checked := make([]*dns.NSEC3, 0, len(records))
	for _, r := range records {
		if r.Hash != dns.SHA1 {
			continue
		}
		if r.Flags > 1 {
			continue
		}
		if maxIterations >= 0 && int(r.Iterations) > maxIterations {
			exceeded = true
			continue
		}
		checked = append(checked, r)
	}
	return &DenialOfExistenceNSEC3{zone: dns.CanonicalName(zone), records: checked}, exceeded
}

func (doe *DenialOfExistenceNSEC3) Empty() bool {
	return len(doe.records) == 0
}
