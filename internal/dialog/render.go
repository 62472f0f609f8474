package dialog

import (
	"fmt"
	"html"
	"strings"

	"github.com/deexno/checkmk-telegram-plus/internal/monitor"
)

// HostStatusMessage renders the HTML one-liner for a host's state.
func HostStatusMessage(host string, state int) string {
	if state == 0 {
		return fmt.Sprintf("%s IS ONLINE ✅", html.EscapeString(host))
	}
	return fmt.Sprintf("%s IS <u><b>OFFLINE</b></u> 🛑", html.EscapeString(host))
}

// ServiceListMessage renders the per-host service overview.
func ServiceListMessage(host string, services []monitor.Service) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<u><b>%s:</b></u>\n\n", html.EscapeString(host))
	for _, svc := range services {
		emoji, text := monitor.StateDetails(svc.State)
		fmt.Fprintf(&b, "%s %s - %s\n", emoji, html.EscapeString(svc.Description), text)
	}
	return b.String()
}

// ServiceDetailsMessage renders the full detail view of one service:
// summary, long output, parsed metrics and last check time.
func ServiceDetailsMessage(details monitor.ServiceDetails) string {
	emoji, text := monitor.StateDetails(details.State)

	var b strings.Builder
	fmt.Fprintf(&b, "%s <u><b>%s / %s - %s</b></u>\n\n",
		emoji, html.EscapeString(details.Host), html.EscapeString(details.Description), text)
	fmt.Fprintf(&b, "<b>SUMMARY: </b>\n<code><pre>%s</pre></code>\n\n", html.EscapeString(details.PluginOutput))
	fmt.Fprintf(&b, "<b>DETAILS: </b>\n<code><pre>%s</pre></code>\n\n", html.EscapeString(details.LongPluginOutput))

	b.WriteString("<b>METRICS: </b>\n")
	metrics := monitor.ParseMetrics(details.PerfData)
	if len(metrics) == 0 {
		b.WriteString("No metrics available\n")
	} else {
		for _, m := range metrics {
			fmt.Fprintf(&b, "%s: %s\n", html.EscapeString(m.Name), html.EscapeString(m.Value))
		}
	}

	fmt.Fprintf(&b, "\n<b>INFO: </b>\nLast Check: %s", details.LastCheck.Format("2006-01-02 15:04:05"))
	return b.String()
}

// HostProblemsMessage renders the hosts of a group currently in a
// non-OK state, worst first.
func HostProblemsMessage(problems []monitor.HostProblem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<u><b>HOST PROBLEMS (%d):</b></u>\n\n", len(problems))
	for _, p := range problems {
		emoji, _ := monitor.StateDetails(p.State)
		fmt.Fprintf(&b, "%s %s\n", emoji, html.EscapeString(p.Name))
	}
	return b.String()
}

// ServiceProblemsMessage renders the services of a group currently in a
// non-OK state, worst first.
func ServiceProblemsMessage(problems []monitor.ServiceProblem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<u><b>SERVICE PROBLEMS (%d):</b></u>\n\n", len(problems))
	for _, p := range problems {
		emoji, _ := monitor.StateDetails(p.State)
		fmt.Fprintf(&b, "%s<b>%s</b>: %s\n", emoji, html.EscapeString(p.Host), html.EscapeString(p.Description))
	}
	return b.String()
}

// GraphsAnnouncement renders the header sent before a graph album.
func GraphsAnnouncement(host, service string) string {
	return fmt.Sprintf("<u><b>📉 %s GRAPH(s) FROM %s</b></u>:\nThis may take a second.",
		html.EscapeString(service), html.EscapeString(host))
}
