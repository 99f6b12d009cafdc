package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"capdissector/internal/capfile"
	"capdissector/internal/config"
	"capdissector/internal/dissect"
	"capdissector/internal/document"
	"capdissector/internal/field"
	"capdissector/internal/packet"
	"capdissector/internal/publish"
)

type dumpFlags struct {
	filter      []string
	showPackets bool
	yaml        bool
	hex         bool
	traffic     bool
	benchmarks  bool
	noColumns   bool
	natsURL     string
	subject     string
}

func newDumpCmd(root *rootFlags) *cobra.Command {
	flags := &dumpFlags{}

	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Dissect a capture file and print its fields",
		Example: `  # Print the field tree of every HTTP or DNS frame
  capdissector dump --filter http,dns --show-packets trace.pcapng

  # Count hosts and time the run
  capdissector dump --traffic --benchmarks trace.pcap`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)

			log, err := newLogger(cfg.Logging, root.verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			var pub *publish.Publisher
			if cfg.Publish.NatsURL != "" {
				if pub, err = publish.NewPublisher(cfg.Publish, log); err != nil {
					return err
				}
				defer pub.Close()
			}

			log.Info("dumping capture file", zap.String("file", args[0]))
			stats, err := runDump(cmd.OutOrStdout(), log, cfg, args[0], pub)
			if err != nil {
				if errors.Is(err, field.ErrInconsistent) {
					log.Error("internal consistency error, aborting", zap.Error(err))
				}
				return err
			}
			stats.report(log, cfg.Output)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&flags.filter, "filter", "f", nil, "Only keep frames containing one of these fields (e.g. http,dns)")
	cmd.Flags().BoolVarP(&flags.showPackets, "show-packets", "s", false, "Print the fields of each frame")
	cmd.Flags().BoolVar(&flags.yaml, "yaml", false, "Print each frame as a YAML document")
	cmd.Flags().BoolVar(&flags.hex, "hex", false, "Print a hex dump of each data source")
	cmd.Flags().BoolVarP(&flags.traffic, "traffic", "t", false, "Count traffic by host name")
	cmd.Flags().BoolVarP(&flags.benchmarks, "benchmarks", "b", false, "Report time spent per frame")
	cmd.Flags().BoolVar(&flags.noColumns, "no-columns", false, "Skip computing the summary columns")
	cmd.Flags().StringVar(&flags.natsURL, "nats-url", "", "Publish each frame's document to this NATS server")
	cmd.Flags().StringVar(&flags.subject, "subject", "", "NATS subject to publish on")

	return cmd
}

// apply overrides cfg with the flags given on the command line.
func (f *dumpFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("filter") {
		cfg.Dissect.ReadFilter = f.filter
	}
	if changed("show-packets") {
		cfg.Output.ShowPackets = f.showPackets
	}
	if changed("yaml") {
		cfg.Output.YAML = f.yaml
	}
	if changed("hex") {
		cfg.Output.Hex = f.hex
	}
	if changed("traffic") {
		cfg.Output.Traffic = f.traffic
	}
	if changed("benchmarks") {
		cfg.Output.Benchmarks = f.benchmarks
	}
	if changed("no-columns") {
		cfg.Capture.Columns = !f.noColumns
	}
	if changed("nats-url") {
		cfg.Publish.NatsURL = f.natsURL
	}
	if changed("subject") {
		cfg.Publish.Subject = f.subject
	}
}

type dumpStats struct {
	packets int
	read    int
	hosts   map[string]int
	http    int
	start   time.Time
	elapsed time.Duration
	total   time.Duration
	best    time.Duration
	worst   time.Duration
}

func (s *dumpStats) observe(d time.Duration) {
	s.total += d
	if s.best == 0 || d < s.best {
		s.best = d
	}
	if d > s.worst {
		s.worst = d
	}
}

// countTraffic records the host names a frame refers to.
func (s *dumpStats) countTraffic(p *packet.Packet) error {
	if host, ok := p.FindFirstField("http.host"); ok {
		s.hosts[host.DisplayValue]++
	}
	err := p.EachField(func(f *field.Field) error {
		s.hosts[f.DisplayValue]++
		return nil
	}, "dns.resp.name")
	if err != nil {
		return err
	}
	if p.FieldExists("http") {
		s.http++
	}
	return nil
}

func runDump(out io.Writer, log *zap.Logger, cfg *config.Config, path string, pub *publish.Publisher) (*dumpStats, error) {
	opts := []capfile.Option{capfile.WithLogger(log)}
	if len(cfg.Dissect.ReadFilter) > 0 {
		opts = append(opts, capfile.WithFilter(dissect.ProtocolFilter(cfg.Dissect.ReadFilter...)))
	}
	cf, err := capfile.Open(path, dissect.NewEngine(dissect.WithColumns(cfg.Capture.Columns)), opts...)
	if err != nil {
		return nil, err
	}
	defer cf.Close()

	stats := &dumpStats{hosts: make(map[string]int), start: time.Now()}
	err = cf.Each(func(p *packet.Packet) error {
		stats.packets++
		if stats.packets%100 == 0 {
			log.Debug("progress", zap.Int("processed", stats.packets))
		}
		began := time.Now()

		if cfg.Output.Traffic {
			if err := stats.countTraffic(p); err != nil {
				return err
			}
		}
		if cfg.Output.ShowPackets {
			if err := printPacket(out, p); err != nil {
				return err
			}
		}
		if cfg.Output.YAML {
			doc, err := p.Document()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "--- # frame %d\n%s", p.Number(), doc)
		}
		if cfg.Output.Hex {
			for _, b := range p.BlobList() {
				fmt.Fprintf(out, "Frame %d, %s (%d bytes):\n%s", p.Number(), b.Name, b.Len(), document.HexDump(b.Data))
			}
		}
		if pub != nil {
			if err := pub.Publish(p); err != nil {
				log.Warn("publish failed", zap.Int("frame", p.Number()), zap.Error(err))
			}
		}

		if cfg.Output.Benchmarks {
			stats.observe(time.Since(began))
		}
		return nil
	})
	stats.elapsed = time.Since(stats.start)
	stats.read, _ = cf.Count()
	return stats, err
}

func printPacket(out io.Writer, p *packet.Packet) error {
	header := fmt.Sprintf("Frame %d", p.Number())
	if src, ok := p.SourceAddress(); ok {
		dst, _ := p.DestinationAddress()
		proto, _ := p.Protocol()
		info, _ := p.Info()
		header += fmt.Sprintf(": %s → %s %s %s", src, dst, proto, info)
	}
	if _, err := fmt.Fprintln(out, header); err != nil {
		return err
	}
	return p.Text(out)
}

func (s *dumpStats) report(log *zap.Logger, out config.OutputConfig) {
	log.Info("packet count", zap.Int("packets", s.packets), zap.Int("read", s.read))

	if out.Traffic {
		hosts := make([]string, 0, len(s.hosts))
		for h := range s.hosts {
			hosts = append(hosts, h)
		}
		sort.Slice(hosts, func(i, j int) bool {
			if s.hosts[hosts[i]] != s.hosts[hosts[j]] {
				return s.hosts[hosts[i]] > s.hosts[hosts[j]]
			}
			return hosts[i] < hosts[j]
		})
		for _, h := range hosts {
			log.Info("host traffic", zap.String("host", h), zap.Int("packets", s.hosts[h]))
		}
		log.Info("HTTP packets", zap.Int("count", s.http))
	}

	if out.Benchmarks && s.packets > 0 {
		log.Info("benchmarks",
			zap.Duration("elapsed", s.elapsed),
			zap.Float64("packets_per_sec", float64(s.packets)/s.elapsed.Seconds()),
			zap.Duration("total_per_packet", s.total),
			zap.Duration("fastest", s.best),
			zap.Duration("slowest", s.worst),
			zap.Duration("mean", s.total/time.Duration(s.packets)),
		)
	}
}
