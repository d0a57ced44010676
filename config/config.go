// Package config loads a validator instance's configuration from a TOML
// file, covering the validator policy knobs plus the upstream nameserver
// list.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/miekg/dns"

	"github.com/dnsval/stubval/dnssec"
)

// File is the TOML document shape.
type File struct {
	Validator validatorSection `toml:"validator"`
	Upstream  upstreamSection  `toml:"upstream"`
}

type validatorSection struct {
	// ValOverrideDate, if set, must parse as YYYYMMDDHHMMSS.
	ValOverrideDate    string          `toml:"val-override-date"`
	Nsec3Iterations    []iterationPair `toml:"val-nsec3-keysize-iterations"`
	DigestPreference   []string        `toml:"val-digest-preference"`
	HardenAlgoDowngrade bool           `toml:"harden-algo-downgrade"`
	RequireAllSignatures bool          `toml:"require-all-signatures-valid"`
	MaxChainDepth        int           `toml:"max-chain-depth"`
	MaxQueriesPerRequest int           `toml:"max-queries-per-request"`
	KeyCacheSize         int           `toml:"key-cache-size"`
	KeyCacheNegativeTTLSeconds int     `toml:"key-cache-negative-ttl-seconds"`
	TrustAnchorFiles     []string      `toml:"trust-anchor-files"`
}

type iterationPair struct {
	KeySizeBits   int `toml:"keysize-bits"`
	MaxIterations int `toml:"max-iterations"`
}

type upstreamSection struct {
	Nameservers []string `toml:"nameservers"`
	Attempts    uint     `toml:"attempts"`
}

var digestNames = map[string]uint8{
	"sha1":   dns.SHA1,
	"sha256": dns.SHA256,
	"sha384": dns.SHA384,
}

// Load reads a TOML file at path and produces a dnssec.Config plus the raw
// upstream nameserver list (upstream.NewPool's caller decides how to use
// it, keeping this package free of a dependency on the upstream package).
func Load(path string) (*dnssec.Config, []string, uint, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, nil, 0, fmt.Errorf("config: decode %s: %w", path, err)
	}

	cfg := dnssec.DefaultConfig()

	if f.Validator.ValOverrideDate != "" {
		t, err := time.Parse("20060102150405", f.Validator.ValOverrideDate)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("config: val-override-date: %w", err)
		}
		cfg.ValOverrideDate = &t
	}

	if len(f.Validator.Nsec3Iterations) > 0 {
		table := make([]dnssec.IterationsLimit, 0, len(f.Validator.Nsec3Iterations))
		for _, p := range f.Validator.Nsec3Iterations {
			table = append(table, dnssec.IterationsLimit{KeySizeBits: p.KeySizeBits, MaxIterations: p.MaxIterations})
		}
		cfg.Nsec3IterationsTable = table
	}

	if len(f.Validator.DigestPreference) > 0 {
		pref := make([]uint8, 0, len(f.Validator.DigestPreference))
		for _, name := range f.Validator.DigestPreference {
			id, ok := digestNames[name]
			if !ok {
				return nil, nil, 0, fmt.Errorf("config: unknown digest %q", name)
			}
			pref = append(pref, id)
		}
		cfg.DigestPreference = pref
	}

	cfg.HardenAlgoDowngrade = f.Validator.HardenAlgoDowngrade
	cfg.RequireAllSignaturesValid = f.Validator.RequireAllSignatures

	if f.Validator.MaxChainDepth > 0 {
		cfg.MaxChainDepth = f.Validator.MaxChainDepth
	}
	if f.Validator.MaxQueriesPerRequest > 0 {
		cfg.MaxQueriesPerRequest = f.Validator.MaxQueriesPerRequest
	}
	if f.Validator.KeyCacheSize > 0 {
		cfg.KeyCacheSize = f.Validator.KeyCacheSize
	}
	if f.Validator.KeyCacheNegativeTTLSeconds > 0 {
		cfg.KeyCacheNegativeTTL = time.Duration(f.Validator.KeyCacheNegativeTTLSeconds) * time.Second
	}

	// Trust anchor files are independent of each other, so we load every
	// one and combine whatever errors occur via go-multierror rather than
	// stopping at the first bad file.
	var loadErrs *multierror.Error
	for _, file := range f.Validator.TrustAnchorFiles {
		anchors, err := loadAnchorFile(file)
		if err != nil {
			loadErrs = multierror.Append(loadErrs, err)
			continue
		}
		cfg.TrustAnchors = append(cfg.TrustAnchors, anchors...)
	}
	if loadErrs != nil {
		return nil, nil, 0, loadErrs.ErrorOrNil()
	}

	return cfg, f.Upstream.Nameservers, f.Upstream.Attempts, nil
}

// loadAnchorFile parses a zone-file-formatted file of DS or DNSKEY records,
// using the DNS library's own zone parser rather than hand-rolling one.
func loadAnchorFile(path string) ([]dns.RR, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: trust anchor file %s: %w", path, err)
	}
	defer fh.Close()

	var out []dns.RR
	zp := dns.NewZoneParser(fh, "", path)
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		out = append(out, rr)
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("config: trust anchor file %s: %w", path, err)
	}
	return out, nil
}
