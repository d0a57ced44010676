package dnssec

import (
	"time"

	"github.com/miekg/dns"
)

// KeyEntryKind is the three-way variant a KeyEntry can hold.
type KeyEntryKind uint8

const (
	// KeyEntryTrusted holds a validated DNSKEY RRset for the zone.
	KeyEntryTrusted KeyEntryKind = iota
	// KeyEntryNull records a proven-insecure delegation: either the
	// parent's DS set names no supported algorithm, or DS absence was
	// authenticated by denial-of-existence.
	KeyEntryNull
	// KeyEntryBad records a failed validation; the zone is BOGUS until the
	// entry expires.
	KeyEntryBad
)

// KeyEntry is the authoritative cached verdict for one zone, keyed by
// (zone, class).
type KeyEntry struct {
	Zone  string
	Class uint16

	Kind KeyEntryKind

	// DNSKeys holds the validated key set when Kind == KeyEntryTrusted.
	DNSKeys []*dns.DNSKEY

	Reason Reason

	expires time.Time
}

func (e *KeyEntry) expired(now time.Time) bool {
	return now.After(e.expires)
}

func trustedEntry(zone string, keys []*dns.DNSKEY, expires time.Time) *KeyEntry {
	return &KeyEntry{Zone: zone, Class: dns.ClassINET, Kind: KeyEntryTrusted, DNSKeys: keys, expires: expires}
}

func nullEntry(zone string, reason Reason, expires time.Time) *KeyEntry {
	return &KeyEntry{Zone: zone, Class: dns.ClassINET, Kind: KeyEntryNull, Reason: reason, expires: expires}
}

func badEntry(zone string, reason Reason, expires time.Time) *KeyEntry {
	return &KeyEntry{Zone: zone, Class: dns.ClassINET, Kind: KeyEntryBad, Reason: reason, expires: expires}
}

// status reports the SecurityStatus a cached entry implies for a dependent
// lookup.
func (e *KeyEntry) status() (SecurityStatus, Reason) {
	switch e.Kind {
	case KeyEntryTrusted:
		return Secure, ReasonNone
	case KeyEntryNull:
		return Insecure, e.Reason
	default:
		return Bogus, e.Reason
	}
}
