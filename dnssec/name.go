package dnssec

import (
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// canonicalName lower-cases and fully-qualifies a name, delegating to the DNS
// library's own wire-format-aware implementation.
func canonicalName(name string) string {
	return dns.CanonicalName(name)
}

// namesEqual compares two names under canonical-name equality.
func namesEqual(a, b string) bool {
	return dns.CanonicalName(a) == dns.CanonicalName(b)
}

// isStrictSubdomain reports whether child is a subdomain of parent and not
// equal to it.
func isStrictSubdomain(parent, child string) bool {
	parent, child = canonicalName(parent), canonicalName(child)
	return parent != child && dns.IsSubDomain(parent, child)
}

// ancestorAtDepth returns the ancestor of name that has the given number of
// labels, counting from the root. Used when walking a chain of zone cuts
// label by label.
func ancestorAtDepth(name string, labels int) string {
	name = canonicalName(name)
	total := dns.CountLabel(name)
	if labels >= total {
		return name
	}
	if labels <= 0 {
		return "."
	}
	idx := dns.Split(name)
	// idx[i] is the byte offset of the label at position i (0 = leftmost).
	// The ancestor with `labels` labels starts at idx[total-labels].
	return name[idx[total-labels]:]
}

// wildcardName replaces the first label of name with "*".
func wildcardName(name string) string {
	labelIndexes := dns.Split(name)
	if len(labelIndexes) < 2 {
		return "*."
	}
	return "*." + name[labelIndexes[1]:]
}

// canonicalCompare implements the RFC 4034 §6.1 canonical ordering of domain
// names, label-by-label from the right, used by the NSEC interval checks.
func canonicalCompare(a, b string) int {
	labelsA := dns.SplitDomainName(dns.CanonicalName(a))
	labelsB := dns.SplitDomainName(dns.CanonicalName(b))

	n := min(len(labelsA), len(labelsB))

	for i := 1; i <= n; i++ {
		la := decodeEscapedLabel(labelsA[len(labelsA)-i])
		lb := decodeEscapedLabel(labelsB[len(labelsB)-i])
		if la != lb {
			if la < lb {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(labelsA) < len(labelsB):
		return -1
	case len(labelsA) > len(labelsB):
		return 1
	default:
		return 0
	}
}

// decodeEscapedLabel turns \DDD escape sequences from dns.SplitDomainName
// back into raw bytes so canonical comparison operates on the actual wire
// octets rather than their textual escapes.
func decodeEscapedLabel(label string) string {
	if !strings.Contains(label, `\`) {
		return label
	}
	var b strings.Builder
	for i := 0; i < len(label); i++ {
		if label[i] == '\\' && i+3 < len(label) && isDigit(label[i+1]) && isDigit(label[i+2]) && isDigit(label[i+3]) {
			if v, err := strconv.Atoi(label[i+1 : i+4]); err == nil {
				b.WriteRune(rune(v))
				i += 3
				continue
			}
		}
		b.WriteByte(label[i])
	}
	return b.String()
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// labelBelow returns the single label of name immediately below ancestor,
// i.e. the child zone name one level below ancestor on the path to name.
func labelBelow(ancestor, name string) (string, bool) {
	ancestor, name = canonicalName(ancestor), canonicalName(name)
	if !isStrictSubdomain(ancestor, name) {
		return "", false
	}
	depth := dns.CountLabel(ancestor) + 1
	return ancestorAtDepth(name, depth), true
}
