// Command stubval validates a single DNS query against a configured
// upstream, printing the resulting rcode and AD bit.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dnsval/stubval/config"
	"github.com/dnsval/stubval/dnssec"
	applog "github.com/dnsval/stubval/log"
	"github.com/dnsval/stubval/upstream"
)

type options struct {
	configPath string
	logLevel   uint32
	nameservers []string
	timeout    time.Duration
}

func main() {
	var opt options

	cmd := &cobra.Command{
		Use:   "stubval <qname> <qtype>",
		Short: "DNSSEC-validating stub resolver query tool",
		Long: `Sends a single query to a configured upstream resolver and
reports whether the response validates as SECURE, INSECURE, BOGUS, or
INDETERMINATE.`,
		Example: `  stubval -c config.toml www.example.com A`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opt, args[0], args[1])
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&opt.configPath, "config", "c", "", "path to a TOML config file")
	cmd.Flags().Uint32VarP(&opt.logLevel, "log-level", "l", uint32(logrus.InfoLevel), "log level (logrus numeric scale)")
	cmd.Flags().StringSliceVarP(&opt.nameservers, "nameserver", "n", nil, "upstream nameserver (repeatable); overrides config file")
	cmd.Flags().DurationVarP(&opt.timeout, "timeout", "t", 5*time.Second, "overall query timeout")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(opt options, qname, qtypeName string) error {
	applog.SetLevel(logrus.Level(opt.logLevel))

	qtype, ok := dns.StringToType[strings.ToUpper(qtypeName)]
	if !ok {
		return fmt.Errorf("unknown query type %q", qtypeName)
	}

	cfg := dnssec.DefaultConfig()
	nameservers := opt.nameservers
	var attempts uint

	if opt.configPath != "" {
		loaded, ns, a, err := config.Load(opt.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		attempts = a
		if len(nameservers) == 0 {
			nameservers = ns
		}
	}

	if len(nameservers) == 0 {
		nameservers = []string{"1.1.1.1:53"}
	}

	pool := upstream.NewPool(nameservers, attempts)
	orch := dnssec.NewOrchestrator(cfg, pool)

	ctx, cancel := context.WithTimeout(context.Background(), opt.timeout)
	defer cancel()

	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(qname), qtype)
	query.SetEdns0(4096, true)

	reply, err := orch.Validate(ctx, query)
	if err != nil {
		return err
	}

	fmt.Printf("rcode=%s ad=%v\n", dns.RcodeToString[reply.Rcode], reply.AuthenticatedData)
	for _, rr := range reply.Answer {
		fmt.Println(rr.String())
	}

	return nil
}
