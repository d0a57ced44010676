package dnssec

import "github.com/miekg/dns"

// ResponseClass is the response classifier's verdict for an SMessage.
type ResponseClass uint8

const (
	ClassUnknown ResponseClass = iota
	ClassPositive
	ClassCNAME
	ClassNODATA
	ClassNXDOMAIN
	ClassANY
)

func (c ResponseClass) String() string {
	switch c {
	case ClassPositive:
		return "positive"
	case ClassCNAME:
		return "cname"
	case ClassNODATA:
		return "nodata"
	case ClassNXDOMAIN:
		return "nxdomain"
	case ClassANY:
		return "any"
	default:
		return "unknown"
	}
}

// classify labels a message by rcode, question, and answer-section contents,
// applying the rules in order: NXDOMAIN, then NODATA, then ANY, then a
// direct-type or CNAME match in the answer section.
func classify(msg *SMessage) ResponseClass {
	if msg == nil || len(msg.Question) == 0 {
		return ClassUnknown
	}

	qtype := msg.Question[0].Qtype

	if msg.Rcode == dns.RcodeNameError && len(msg.Answer) == 0 {
		return ClassNXDOMAIN
	}

	if len(msg.Answer) == 0 {
		return ClassNODATA
	}

	if qtype == dns.TypeANY {
		return ClassANY
	}

	for _, rs := range msg.Answer {
		if rs.Type == qtype {
			return ClassPositive
		}
	}

	for _, rs := range msg.Answer {
		if rs.Type == dns.TypeCNAME {
			return ClassCNAME
		}
	}

	return ClassUnknown
}
