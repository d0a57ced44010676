package dnssec

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"time"

	"github.com/miekg/dns"
)

const dnskeyFlagCSK = 257
const testZone = "example.com."

type testKey struct {
	key    *dns.DNSKEY
	ds     *dns.DS
	signer crypto.Signer
}

// testRsaKey builds a throwaway RSA/SHA-256 key pair for a given zone and
// bit size, used across the RRset verifier and trust-chain walker tests.
func testRsaKey(zone string, bits int) *testKey {
	dnskey := &dns.DNSKEY{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(zone),
			Rrtype: dns.TypeDNSKEY,
			Class:  dns.ClassINET,
			Ttl:    300,
		},
		Flags:     dnskeyFlagCSK,
		Protocol:  3,
		Algorithm: dns.RSASHA256,
	}
	secret, err := dnskey.Generate(bits)
	if err != nil {
		panic(err)
	}
	signer, _ := secret.(*rsa.PrivateKey)
	return &testKey{
		ds:     dnskey.ToDS(dns.SHA256),
		key:    dnskey,
		signer: signer,
	}
}

func testEcKey(zone string) *testKey {
	dnskey := &dns.DNSKEY{
		Hdr: dns.RR_Header{
			Name:   dns.Fqdn(zone),
			Rrtype: dns.TypeDNSKEY,
			Class:  dns.ClassINET,
			Ttl:    300,
		},
		Flags:     dnskeyFlagCSK,
		Protocol:  3,
		Algorithm: dns.ECDSAP256SHA256,
	}
	secret, err := dnskey.Generate(256)
	if err != nil {
		panic(err)
	}
	signer, _ := secret.(*ecdsa.PrivateKey)
	return &testKey{
		ds:     dnskey.ToDS(dns.SHA256),
		key:    dnskey,
		signer: signer,
	}
}

func (k *testKey) sign(rrset []dns.RR, inception, expiration int64) *dns.RRSIG {
	if inception == 0 {
		inception = time.Now().Add(-24 * time.Hour).Unix()
	}
	if expiration == 0 {
		expiration = time.Now().Add(24 * time.Hour).Unix()
	}
	rrsig := &dns.RRSIG{
		Hdr:        dns.RR_Header{},
		Inception:  uint32(inception),
		Expiration: uint32(expiration),
		KeyTag:     k.key.KeyTag(),
		SignerName: k.key.Header().Name,
		Algorithm:  k.key.Algorithm,
	}
	if err := rrsig.Sign(k.signer, rrset); err != nil {
		panic(err)
	}
	return rrsig
}

func newRR(s string) dns.RR {
	rr, err := dns.NewRR(s)
	if err != nil {
		panic(err)
	}
	return rr
}

// signedRRset builds an RRset from owner/type/TTL/rdata strings, signs it
// with key, and returns the resulting *RRset ready for verifyRRset.
func signedRRset(owner string, rtype uint16, ttl uint32, key *testKey, rrs ...dns.RR) *RRset {
	rrsig := key.sign(rrs, 0, 0)
	return &RRset{
		Name:   canonicalName(owner),
		Type:   rtype,
		TTL:    ttl,
		RRs:    rrs,
		RRSIGs: []*dns.RRSIG{rrsig},
	}
}
