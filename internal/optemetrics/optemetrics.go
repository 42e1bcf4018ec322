// Package optemetrics exposes per-port/per-layer engine counters as
// Prometheus metrics: rule hits/misses/denies, gen_desc failures, LFT/UFT
// occupancy, and port-level emit/drop/bypass totals (SPEC_FULL.md's
// domain-stack description names these as the metrics worth wiring
// prometheus/client_golang to).
//
// Grounded on grimm-is-flywall/internal/ebpf/metrics/prometheus.go's
// "struct of prometheus objects + Describe/Collect" shape, adapted from
// an eagerly-updated static Metrics struct to a pull Collector: rather
// than threading *prometheus.Counter fields into internal/layer and
// internal/port's hot packet-processing path (an upward dependency this
// module's layering avoids — internal/layer and internal/port already
// expose their own atomic counters for exactly this purpose), Collect
// reads those existing atomics fresh on every Prometheus scrape and
// emits them as const metrics. Net effect on the hot path is identical
// either way (one atomic increment); this version adds zero import-graph
// coupling from the datapath packages to optemetrics.
package optemetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luqmana/opte/internal/port"
)

// PortSource is the subset of internal/ctlplane.Registry's behavior
// Collector needs: naming and looking up live ports. Declared locally
// (rather than importing ctlplane.Registry directly) so this package has
// no hard dependency on the control-plane package; ctlplane.Registry
// satisfies this interface structurally.
type PortSource interface {
	PortNames() []string
	Port(name string) (*port.Port, bool)
}

// Collector is a prometheus.Collector pulling from every port in src on
// each scrape.
type Collector struct {
	src PortSource

	portUFTOut    *prometheus.Desc
	portUFTIn     *prometheus.Desc
	portTCPFlows  *prometheus.Desc
	portEmitted   *prometheus.Desc
	portDropped   *prometheus.Desc
	portBypassed  *prometheus.Desc

	layerGeneration *prometheus.Desc
	layerLFTOut     *prometheus.Desc
	layerLFTIn      *prometheus.Desc
	layerHits       *prometheus.Desc
	layerMisses     *prometheus.Desc
	layerDenies     *prometheus.Desc
	layerGenDescErr *prometheus.Desc
	layerOutRules   *prometheus.Desc
	layerInRules    *prometheus.Desc
}

// NewCollector builds a Collector reading from src. Register it with
// prometheus.MustRegister (or a custom Registry) to expose it.
func NewCollector(src PortSource) *Collector {
	portLabels := []string{"port"}
	layerLabels := []string{"port", "layer"}

	return &Collector{
		src: src,

		portUFTOut:   prometheus.NewDesc("opte_port_uft_outbound_entries", "Outbound UFT entry count.", portLabels, nil),
		portUFTIn:    prometheus.NewDesc("opte_port_uft_inbound_entries", "Inbound UFT entry count.", portLabels, nil),
		portTCPFlows: prometheus.NewDesc("opte_port_tcp_flows", "Tracked TCP flow count.", portLabels, nil),
		portEmitted:  prometheus.NewDesc("opte_port_frames_emitted_total", "Frames emitted (transformed or bypassed).", portLabels, nil),
		portDropped:  prometheus.NewDesc("opte_port_frames_dropped_total", "Frames dropped (Deny outcome or processing error).", portLabels, nil),
		portBypassed: prometheus.NewDesc("opte_port_frames_bypassed_total", "Frames returned as ResultBypass.", portLabels, nil),

		layerGeneration: prometheus.NewDesc("opte_layer_generation", "Current rule-table generation counter.", layerLabels, nil),
		layerLFTOut:     prometheus.NewDesc("opte_layer_lft_outbound_entries", "Outbound LFT entry count.", layerLabels, nil),
		layerLFTIn:      prometheus.NewDesc("opte_layer_lft_inbound_entries", "Inbound LFT entry count.", layerLabels, nil),
		layerHits:       prometheus.NewDesc("opte_layer_lft_hits_total", "LFT hot-path hits.", layerLabels, nil),
		layerMisses:     prometheus.NewDesc("opte_layer_lft_misses_total", "LFT misses (cold path taken).", layerLabels, nil),
		layerDenies:     prometheus.NewDesc("opte_layer_denies_total", "Deny outcomes.", layerLabels, nil),
		layerGenDescErr: prometheus.NewDesc("opte_layer_gen_desc_failures_total", "Action.Resolve failures.", layerLabels, nil),
		layerOutRules:   prometheus.NewDesc("opte_layer_outbound_rules", "Outbound rule table size.", layerLabels, nil),
		layerInRules:    prometheus.NewDesc("opte_layer_inbound_rules", "Inbound rule table size.", layerLabels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.portUFTOut
	ch <- c.portUFTIn
	ch <- c.portTCPFlows
	ch <- c.portEmitted
	ch <- c.portDropped
	ch <- c.portBypassed
	ch <- c.layerGeneration
	ch <- c.layerLFTOut
	ch <- c.layerLFTIn
	ch <- c.layerHits
	ch <- c.layerMisses
	ch <- c.layerDenies
	ch <- c.layerGenDescErr
	ch <- c.layerOutRules
	ch <- c.layerInRules
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.src.PortNames() {
		p, ok := c.src.Port(name)
		if !ok {
			continue
		}
		s := p.Dump()

		ch <- prometheus.MustNewConstMetric(c.portUFTOut, prometheus.GaugeValue, float64(s.UFTOut), name)
		ch <- prometheus.MustNewConstMetric(c.portUFTIn, prometheus.GaugeValue, float64(s.UFTIn), name)
		ch <- prometheus.MustNewConstMetric(c.portTCPFlows, prometheus.GaugeValue, float64(s.TCPFlows), name)
		ch <- prometheus.MustNewConstMetric(c.portEmitted, prometheus.CounterValue, float64(s.Emitted), name)
		ch <- prometheus.MustNewConstMetric(c.portDropped, prometheus.CounterValue, float64(s.Dropped), name)
		ch <- prometheus.MustNewConstMetric(c.portBypassed, prometheus.CounterValue, float64(s.Bypassed), name)

		for _, l := range s.Layers {
			ch <- prometheus.MustNewConstMetric(c.layerGeneration, prometheus.GaugeValue, float64(l.Generation), name, l.Name)
			ch <- prometheus.MustNewConstMetric(c.layerLFTOut, prometheus.GaugeValue, float64(l.LFTOutCount), name, l.Name)
			ch <- prometheus.MustNewConstMetric(c.layerLFTIn, prometheus.GaugeValue, float64(l.LFTInCount), name, l.Name)
			ch <- prometheus.MustNewConstMetric(c.layerHits, prometheus.CounterValue, float64(l.Hits), name, l.Name)
			ch <- prometheus.MustNewConstMetric(c.layerMisses, prometheus.CounterValue, float64(l.Misses), name, l.Name)
			ch <- prometheus.MustNewConstMetric(c.layerDenies, prometheus.CounterValue, float64(l.Denies), name, l.Name)
			ch <- prometheus.MustNewConstMetric(c.layerGenDescErr, prometheus.CounterValue, float64(l.GenDescFailures), name, l.Name)
			ch <- prometheus.MustNewConstMetric(c.layerOutRules, prometheus.GaugeValue, float64(l.OutboundRules), name, l.Name)
			ch <- prometheus.MustNewConstMetric(c.layerInRules, prometheus.GaugeValue, float64(l.InboundRules), name, l.Name)
		}
	}
}
