package prometheus

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/internaldefs"
)

// Source is satisfied by *goIdentity.Engine.
type Source interface {
	MetricsSnapshot() goIdentity.MetricsSnapshot
	AuditDropped() uint64
	ActivityDropped() uint64
}

type Exporter struct {
	source Source
}

func NewExporter(source Source) *Exporter {
	return &Exporter{source: source}
}

func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current exposition. It is empty while metrics are disabled and
// nothing has been dropped.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	auditDropped := p.source.AuditDropped()
	activityDropped := p.source.ActivityDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && auditDropped == 0 && activityDropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	for _, def := range internaldefs.CounterDefs {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		writeHistogram(&b, def.Name, def.Help, cumulative, snapshot.Sums[def.ID].Seconds())
	}
	writeCounter(&b, "goidentity_audit_dropped_total", "Audit events dropped under backpressure.", auditDropped)
	writeCounter(&b, "goidentity_activity_dropped_total", "Session activity touches dropped under backpressure.", activityDropped)

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, escapeHelp(help), name, kind)
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	writeHeader(b, name, help, "counter")
	fmt.Fprintf(b, "%s %d\n", name, value)
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64, sumSeconds float64) {
	writeHeader(b, name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		fmt.Fprintf(b, "%s_bucket{le=%q} %d\n", name, le, cumulative[i])
	}
	fmt.Fprintf(b, "%s_sum %s\n", name, strconv.FormatFloat(sumSeconds, 'g', -1, 64))
	fmt.Fprintf(b, "%s_count %d\n", name, cumulative[len(cumulative)-1])
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
