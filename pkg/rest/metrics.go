package rest

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jitsi-contrib/jicofo-go/pkg/bridge"
	"github.com/jitsi-contrib/jicofo-go/pkg/registry"
)

// collector is a prometheus.Collector gathering jicofo-level gauges at scrape time,
// grounded on the same describe/collect split any Collector in the pack uses: static
// *prometheus.Desc values built once, populated from live registries on every scrape.
type collector struct {
	bridges *bridge.Registry
	rooms   *registry.Registry

	conferencesDesc *prometheus.Desc
	participantsDesc *prometheus.Desc
	bridgeUpDesc    *prometheus.Desc
	bridgeLoadDesc  *prometheus.Desc
}

func newCollector(bridges *bridge.Registry, rooms *registry.Registry) *collector {
	return &collector{
		bridges: bridges,
		rooms:   rooms,
		conferencesDesc: prometheus.NewDesc(
			"jicofo_conferences",
			"Number of conferences currently held in the registry",
			nil, nil,
		),
		participantsDesc: prometheus.NewDesc(
			"jicofo_participants",
			"Number of participants in a conference",
			[]string{"room"}, nil,
		),
		bridgeUpDesc: prometheus.NewDesc(
			"jicofo_bridge_up",
			"Whether a bridge is currently operational (1) or not (0)",
			[]string{"bridge", "region", "version"}, nil,
		),
		bridgeLoadDesc: prometheus.NewDesc(
			"jicofo_bridge_stress_level",
			"Last reported stress level for a bridge",
			[]string{"bridge"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.conferencesDesc
	ch <- c.participantsDesc
	ch <- c.bridgeUpDesc
	ch <- c.bridgeLoadDesc
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	rooms := c.rooms.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.conferencesDesc, prometheus.GaugeValue, float64(len(rooms)))

	for _, room := range rooms {
		conf, ok := c.rooms.Get(room)
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(
			c.participantsDesc, prometheus.GaugeValue,
			float64(conf.ParticipantCount()), room,
		)
	}

	for _, b := range c.bridges.Snapshot() {
		up := 0.0
		if b.Operational {
			up = 1.0
		}
		ch <- prometheus.MustNewConstMetric(
			c.bridgeUpDesc, prometheus.GaugeValue, up,
			string(b.ID), b.Region, b.Version,
		)
		ch <- prometheus.MustNewConstMetric(
			c.bridgeLoadDesc, prometheus.GaugeValue,
			b.Load.Stress, string(b.ID),
		)
	}
}
