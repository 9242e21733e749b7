package api

import (
	"net/http"
	"text/template"
	"time"

	"github.com/hako/durafmt"

	"github.com/gbl08ma/darwincancel/cancache"
)

// dashboardHTML is the operator dashboard template: server-rendered,
// auto-refreshing every 30s per spec.md §4.H. Grounded on the teacher's
// own text/template + FuncMap style (web.go's WebReloadTemplate), kept
// inline via a Go string rather than web.go's ParseGlob("web/*.html")
// since this service ships no separate web/ asset directory.
const dashboardHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="30">
<title>darwincancel dashboard</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; width: 100%; margin-bottom: 2em; }
th, td { border: 1px solid #ccc; padding: 0.4em 0.6em; text-align: left; font-size: 0.9em; }
th { background: #eee; }
.badge-ok { color: #080; }
.badge-miss { color: #a00; }
h1, h2 { margin-bottom: 0.3em; }
</style>
</head>
<body>
<h1>darwincancel</h1>
<h2>Stats</h2>
<table>
<tr><th>Total</th><th>Enriched</th><th>Non-enriched</th><th>Enrichment rate</th><th>Window</th></tr>
<tr>
<td>{{.Stats.Total}}</td>
<td>{{.Stats.Enriched}}</td>
<td>{{.Stats.NonEnriched}}</td>
<td>{{printf "%.1f%%" (percent .Stats.EnrichmentRate)}}</td>
<td>{{if .Stats.Total}}{{ago .Stats.WindowStart}} &ndash; {{ago .Stats.WindowEnd}}{{else}}&ndash;{{end}}</td>
</tr>
</table>

<h2>By route</h2>
<table>
<tr><th>Origin</th><th>Destination</th><th>Count</th><th>Last seen</th></tr>
{{range .ByRoute}}<tr><td>{{.OriginTiploc}}</td><td>{{.DestinationTiploc}}</td><td>{{.Count}}</td><td>{{ago .LastSeen}} ago</td></tr>
{{end}}</table>

<h2>Recent cancellations</h2>
<table>
<tr><th>RID</th><th>Reason</th><th>Route</th><th>Observed</th><th>Enriched</th></tr>
{{range .Recent}}<tr>
<td>{{.RID}}</td>
<td>{{.ReasonText}}</td>
<td>{{if .DarwinEnriched}}{{.Origin.Tiploc}} &rarr; {{.Destination.Tiploc}}{{else}}&ndash;{{end}}</td>
<td>{{ago .ObservedAt}} ago</td>
<td>{{if .DarwinEnriched}}<span class="badge-ok">yes</span>{{else}}<span class="badge-miss">no</span>{{end}}</td>
</tr>
{{end}}</table>
</body>
</html>
`

func parseDashboardTemplate() (*template.Template, error) {
	funcMap := template.FuncMap{
		"ago": func(t time.Time) string {
			if t.IsZero() {
				return "-"
			}
			return durafmt.Parse(time.Since(t)).LimitFirstN(2).String()
		},
		"percent": func(rate float64) float64 {
			return rate * 100
		},
	}
	return template.New("dashboard").Funcs(funcMap).Parse(dashboardHTML)
}

type dashboardData struct {
	Stats   cancache.Stats
	ByRoute []cancache.RouteStat
	Recent  []dashboardRow
}

type dashboardRow struct {
	RID            string
	ReasonText     string
	ObservedAt     time.Time
	DarwinEnriched bool
	Origin         dashboardPoint
	Destination    dashboardPoint
}

type dashboardPoint struct {
	Tiploc string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	recent := s.cache.Recent(DefaultLimit, time.Time{})
	rows := make([]dashboardRow, 0, len(recent))
	for _, ac := range recent {
		row := dashboardRow{
			RID:            ac.RID,
			ReasonText:     ac.ReasonText,
			ObservedAt:     ac.ObservedAt,
			DarwinEnriched: ac.DarwinEnriched,
		}
		if ac.DarwinEnriched {
			row.Origin.Tiploc = ac.Origin.Tiploc
			row.Destination.Tiploc = ac.Destination.Tiploc
		}
		rows = append(rows, row)
	}

	data := dashboardData{
		Stats:   s.cache.Stats(),
		ByRoute: s.cache.ByRoute(),
		Recent:  rows,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "dashboard", data); err != nil {
		s.cfg.Log.Printf("api: dashboard render error: %v", err)
	}
}
