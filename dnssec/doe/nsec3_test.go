package doe

import (
	"slices"
	"testing"

	"github.com/miekg/dns"
)

type testNsec3RRSets struct {
	closestEncloser []*dns.NSEC3
	nextCloserName  []*dns.NSEC3
	wildcardCovers  []*dns.NSEC3
	wildcardMatches []*dns.NSEC3
	qnameMatches    []*dns.NSEC3
}

func getTestNsec3RRSets() testNsec3RRSets {
	/*
		hash(example.com.) = 111NOTAB271SNH4EA8ESDKBF1C2QINH1
		hash(*.example.com.) = 3MFPR9I7C49K59BM8VU2HM71CCR7BH0B
		hash(test.example.com.) = L72QU4B0R4USH96QN17VTCD8395QILEQ

		Generated with:
		digest := dns.HashName(domain, dns.SHA1, uint16(2), "abcdef")
	*/

	r := testNsec3RRSets{}

	// The ClosestEncloser
	r.closestEncloser = []*dns.NSEC3{
		// example.com (apex)
		newRR("111NOTAB271SNH4EA8ESDKBF1C2QINH1.example.com. 3600 IN NSEC3 1 0 2 ABCDEF 211NOTAB271SNH4EA8ESDKBF1C2QINH1 SOA RRSIG").(*dns.NSEC3),
	}

	// The Next Closer name
	r.nextCloserName = []*dns.NSEC3{
		// test. == L72QU4B0R4USH96QN17VTCD8395QILEQ
		// So we need two hashes that cover that hash.
		newRR("K72QU4B0R4USH96QN17VTCD8395QILEQ.example.com. 3600 IN NSEC3 1 0 2 ABCDEF M72QU4B0R4USH96QN17VTCD8395QILEQ A RRSIG").(*dns.NSEC3),
	}

	// The Wildcard (cover)
	r.wildcardCovers = []*dns.NSEC3{
		// *. == 3MFPR9I7C49K59BM8VU2HM71CCR7BH0B
		// So we need two hashes that cover that hash.
		newRR("2MFPR9I7C49K59BM8VU2HM71CCR7BH0B.example.com. 3600 IN NSEC3 1 0 2 ABCDEF 4MFPR9I7C49K59BM8VU2HM71CCR7BH0B A RRSIG").(*dns.NSEC3),
	}

	// The Wildcard (match)
	r.wildcardMatches = []*dns.NSEC3{
		// *.example.com
		newRR("3MFPR9I7C49K59BM8VU2HM71CCR7BH0B.example.com. 3600 IN NSEC3 1 0 2 ABCDEF 3NFPR9I7C49K59BM8VU2HM71CCR7BH0B A RRSIG").(*dns.NSEC3),
	}

	// The QName (match)
	r.qnameMatches = []*dns.NSEC3{
		// test.example.com
		newRR("L72QU4B0R4USH96QN17VTCD8395QILEQ.example.com. 3600 IN NSEC3 1 0 2 ABCDEF T0B6SHHJ0JQRI032RVVLMCGGNHCVF5UM A RRSIG").(*dns.NSEC3),
	}

	return r
}

func mustNsec3(t *testing.T, records []*dns.NSEC3) *DenialOfExistenceNSEC3 {
	t.Helper()
	prover, exceeded := NewDenialOfExistenceNSEC3(zoneName, records, -1)
	if exceeded {
		t.Fatal("did not expect any record to be dropped for exceeding the iterations cap")
	}
	return prover
}

func TestDenialOfExistenceNSEC3_BitMap(t *testing.T) {

	// NSEC3: Hash Algorithm, Flags (optout), Iterations, Salt Length, Salt, Next Hashed Owner name, Type Bit Maps

	rrset := []*dns.NSEC3{
		// test.example.com
		newRR("L72QU4B0R4USH96QN17VTCD8395QILEQ.example.com. 3600 IN NSEC3 1 0 2 ABCDEF T0B6SHHJ0JQRI032RVVLMCGGNHCVF5UM A RRSIG").(*dns.NSEC3),
	}

	nsec3 := mustNsec3(t, rrset)

	nameSeen, typeSeen := nsec3.TypeBitMapContainsAnyOf("test.example.com.", []uint16{dns.TypeA})
	if !nameSeen || !typeSeen {
		t.Error("we expect both the name and type to be seen")
	}

	nameSeen, typeSeen = nsec3.TypeBitMapContainsAnyOf("test.example.com.", []uint16{dns.TypeAAAA})
	if !nameSeen || typeSeen {
		t.Error("we expect the name to be seen, but not the type")
	}

	nameSeen, typeSeen = nsec3.TypeBitMapContainsAnyOf("other.example.com.", []uint16{dns.TypeA})
	if nameSeen || typeSeen {
		// Note that we only expect a type to be seen if the name is also seen.
		// i.e. we only inspect a NSEC3 record's BitMap if it matches the name.
		t.Error("we expect neither the name or type to be seen")
	}

}

func TestDenialOfExistenceNSEC3_NameError(t *testing.T) {

	r := getTestNsec3RRSets()

	// Closest encloser, next closer, and wildcard all covered: a full
	// NXDOMAIN proof.
	nsec3 := mustNsec3(t, slices.Concat(r.closestEncloser, r.nextCloserName, r.wildcardCovers))
	if !nsec3.ProveNameError("test.example.com.") {
		t.Error("expected a complete name-error proof to hold")
	}

	// An NSEC3 matching the qname itself means the name exists - no proof.
	nsec3 = mustNsec3(t, slices.Concat(r.closestEncloser, r.nextCloserName, r.wildcardCovers, r.qnameMatches))
	if nsec3.ProveNameError("test.example.com.") {
		t.Error("a matching qname NSEC3 must not produce a name-error proof")
	}

	// An NSEC3 matching the wildcard means a wildcard could have expanded -
	// no proof of nonexistence.
	nsec3 = mustNsec3(t, slices.Concat(r.closestEncloser, r.nextCloserName, r.wildcardMatches))
	if nsec3.ProveNameError("test.example.com.") {
		t.Error("a matching wildcard NSEC3 must not produce a name-error proof")
	}

	// Missing the wildcard-covering record: incomplete proof.
	nsec3 = mustNsec3(t, slices.Concat(r.closestEncloser, r.nextCloserName))
	if nsec3.ProveNameError("test.example.com.") {
		t.Error("expected this to fail without wildcard coverage")
	}

	// Missing the next-closer-covering record: incomplete proof.
	nsec3 = mustNsec3(t, slices.Concat(r.closestEncloser, r.wildcardCovers))
	if nsec3.ProveNameError("test.example.com.") {
		t.Error("expected this to fail without next-closer coverage")
	}

	// No closest encloser at all.
	nsec3 = mustNsec3(t, slices.Concat(r.nextCloserName, r.wildcardCovers))
	if nsec3.ProveNameError("test.example.com.") {
		t.Error("expected this to fail without a closest encloser")
	}

	nsec3 = mustNsec3(t, nil)
	if nsec3.ProveNameError("test.example.com.") {
		t.Error("expected no proof with no records")
	}
}

func TestDenialOfExistenceNSEC3_ExpandedWildcard(t *testing.T) {

	r := getTestNsec3RRSets()

	// Tests assume the answer test.example.com. was synthesised from
	// `*.example.com.`, i.e. its RRSIG carries a label count of 2.

	nsec3 := mustNsec3(t, r.nextCloserName)
	if !nsec3.ProveExpandedWildcard("test.example.com.", 2) {
		t.Error("expected this to be valid: doe for the next closer name, but not the wildcard")
	}

	nsec3 = mustNsec3(t, r.closestEncloser)
	if nsec3.ProveExpandedWildcard("test.example.com.", 2) {
		t.Error("expected this to fail: there's no next closer name")
	}

	nsec3 = mustNsec3(t, slices.Concat(r.nextCloserName, r.wildcardCovers))
	if nsec3.ProveExpandedWildcard("test.example.com.", 2) {
		t.Error("expected this to fail: doe for the wildcard (covered) record")
	}

	nsec3 = mustNsec3(t, slices.Concat(r.nextCloserName, r.wildcardMatches))
	if nsec3.ProveExpandedWildcard("test.example.com.", 2) {
		t.Error("expected this to fail: doe for the wildcard (matched) record")
	}

	nsec3 = mustNsec3(t, r.qnameMatches)
	if nsec3.ProveExpandedWildcard("test.example.com.", 2) {
		t.Error("expected this to fail: doe for the qname, so the wildcard should not have been expanded")
	}
}

func TestDenialOfExistenceNSEC3_Optout(t *testing.T) {

	// NSEC3: Hash Algorithm, Flags (optout), Iterations, Salt Length, Salt, Next Hashed Owner name, Type Bit Maps

	// We set the OptOut flag to 1 on the below.

	closestEncloser := []*dns.NSEC3{
		// example.com (apex)
		newRR("111NOTAB271SNH4EA8ESDKBF1C2QINH1.example.com. 3600 IN NSEC3 1 1 2 ABCDEF 211NOTAB271SNH4EA8ESDKBF1C2QINH1 SOA RRSIG").(*dns.NSEC3),
	}

	// Covers `test.`
	nextCloserName := []*dns.NSEC3{
		// test. == L72QU4B0R4USH96QN17VTCD8395QILEQ
		// So we need two hashes that cover that hash.
		newRR("K72QU4B0R4USH96QN17VTCD8395QILEQ.example.com. 3600 IN NSEC3 1 1 2 ABCDEF M72QU4B0R4USH96QN17VTCD8395QILEQ A RRSIG").(*dns.NSEC3),
	}

	nsec3 := mustNsec3(t, slices.Concat(nextCloserName, closestEncloser))

	optedOut, proven := nsec3.ProveNoDS("test.example.com.")
	if !optedOut || !proven {
		t.Error("expected an opted-out next-closer span to prove the no-DS case as opt-out")
	}
}

func TestDenialOfExistenceNSEC3_InvalidValues(t *testing.T) {

	// NSEC3 records that have an invalid hash value, or an invalid Flags field, must be ignored.

	// NSEC3: Hash Algorithm, Flags (optout), Iterations, Salt Length, Salt, Next Hashed Owner name, Type Bit Maps

	// The only allowed Hash Algorithm value is 1. Here we change it to 5.
	closestEncloser := []*dns.NSEC3{
		// example.com (apex)
		newRR("111NOTAB271SNH4EA8ESDKBF1C2QINH1.example.com. 3600 IN NSEC3 5 0 2 ABCDEF 211NOTAB271SNH4EA8ESDKBF1C2QINH1 SOA RRSIG").(*dns.NSEC3),
	}

	// The only allowed Flags values are 0 or 1. Here we change it to 5. Note that we've already tested 0 and 1 in other tests.
	nextCloserName := []*dns.NSEC3{
		// test. == L72QU4B0R4USH96QN17VTCD8395QILEQ
		// So we need two hashes that cover that hash.
		newRR("K72QU4B0R4USH96QN17VTCD8395QILEQ.example.com. 3600 IN NSEC3 1 5 2 ABCDEF M72QU4B0R4USH96QN17VTCD8395QILEQ A RRSIG").(*dns.NSEC3),
	}

	nsec3 := mustNsec3(t, slices.Concat(nextCloserName, closestEncloser))

	if !nsec3.Empty() {
		t.Error("we expect there to be no nsec3 records to check as both that were passed should be ignored")
	}

	// We've tested in previous tests that proofs fail if nsec3.Empty() is true.
}

func TestDenialOfExistenceNSEC3_IterationsCap(t *testing.T) {

	rrset := []*dns.NSEC3{
		newRR("L72QU4B0R4USH96QN17VTCD8395QILEQ.example.com. 3600 IN NSEC3 1 0 2000 ABCDEF T0B6SHHJ0JQRI032RVVLMCGGNHCVF5UM A RRSIG").(*dns.NSEC3),
	}

	prover, exceeded := NewDenialOfExistenceNSEC3(zoneName, rrset, 500)
	if !exceeded {
		t.Error("expected an NSEC3 with 2000 iterations to exceed a 500 cap")
	}
	if !prover.Empty() {
		t.Error("expected the over-cap record to be dropped")
	}
}
