package dashboard

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"strings"
	"time"

	"github.com/tejusbharadwaj/aqforecast/internal/models"
)

const (
	chartWidth  = 720.0
	chartHeight = 240.0
	chartPad    = 36.0
)

var palette = []template.CSS{"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd", "#8c564b", "#e377c2", "#7f7f7f"}

// chart is a pre-scaled SVG line chart.
type chart struct {
	Width, Height float64
	Lines         []chartLine
	Band          string
	YMin, YMax    string
	XStart, XEnd  string
}

type chartLine struct {
	Name   string
	Color  template.CSS
	Points string
}

type page struct {
	View     View
	History  chart
	Forecast chart
	Stats    chart
}

type namedPoints struct {
	name   string
	points []models.TimeSeriesData
}

// scaler maps time/value pairs into the plot area.
type scaler struct {
	t0, t1 time.Time
	v0, v1 float64
}

func newScaler() *scaler {
	return &scaler{v0: math.Inf(1), v1: math.Inf(-1)}
}

func (s *scaler) add(t time.Time, vs ...float64) {
	if s.t0.IsZero() || t.Before(s.t0) {
		s.t0 = t
	}
	if t.After(s.t1) {
		s.t1 = t
	}
	for _, v := range vs {
		s.v0 = math.Min(s.v0, v)
		s.v1 = math.Max(s.v1, v)
	}
}

func (s *scaler) xy(t time.Time, v float64) string {
	span := s.t1.Sub(s.t0).Seconds()
	x := chartPad
	if span > 0 {
		x += t.Sub(s.t0).Seconds() / span * (chartWidth - 2*chartPad)
	}
	vspan := s.v1 - s.v0
	y := chartHeight / 2
	if vspan > 0 {
		y = chartHeight - chartPad - (v-s.v0)/vspan*(chartHeight-2*chartPad)
	}
	return fmt.Sprintf("%.1f,%.1f", x, y)
}

func (s *scaler) frame(c *chart) {
	c.Width, c.Height = chartWidth, chartHeight
	c.YMin = fmt.Sprintf("%.2f", s.v0)
	c.YMax = fmt.Sprintf("%.2f", s.v1)
	c.XStart = s.t0.Format("2006-01-02 15:04")
	c.XEnd = s.t1.Format("2006-01-02 15:04")
}

func lineChart(lines ...namedPoints) chart {
	s := newScaler()
	for _, l := range lines {
		for _, p := range l.points {
			s.add(p.Time, p.Value)
		}
	}

	var c chart
	s.frame(&c)
	for i, l := range lines {
		pts := make([]string, len(l.points))
		for j, p := range l.points {
			pts[j] = s.xy(p.Time, p.Value)
		}
		c.Lines = append(c.Lines, chartLine{
			Name:   l.name,
			Color:  palette[i%len(palette)],
			Points: strings.Join(pts, " "),
		})
	}
	return c
}

func forecastChart(fc models.Forecast) chart {
	s := newScaler()
	for _, p := range fc.Points {
		s.add(p.Time, p.Lower, p.Mean, p.Upper)
	}

	var c chart
	s.frame(&c)
	mean := make([]string, len(fc.Points))
	band := make([]string, 0, 2*len(fc.Points))
	for i, p := range fc.Points {
		mean[i] = s.xy(p.Time, p.Mean)
		band = append(band, s.xy(p.Time, p.Upper))
	}
	for i := len(fc.Points) - 1; i >= 0; i-- {
		band = append(band, s.xy(fc.Points[i].Time, fc.Points[i].Lower))
	}
	c.Lines = []chartLine{{Name: "forecast", Color: palette[0], Points: strings.Join(mean, " ")}}
	c.Band = strings.Join(band, " ")
	return c
}

// Render writes view as a standalone HTML page.
func Render(w io.Writer, view View) error {
	p := page{View: view}
	if view.History.OK() {
		p.History = lineChart(namedPoints{name: view.History.Column, points: view.History.Points})
	}
	if view.Forecast.OK() {
		p.Forecast = forecastChart(view.Forecast.Forecast)
	}
	if view.Stats.OK() {
		lines := make([]namedPoints, len(view.Stats.Lines))
		for i, l := range view.Stats.Lines {
			lines[i] = namedPoints{name: l.Name, points: l.Points}
		}
		p.Stats = lineChart(lines...)
	}
	return pageTemplate.Execute(w, p)
}

var pageTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Air quality</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
section { margin-bottom: 2em; }
.metric { font-size: 3em; font-weight: bold; }
.nodata { color: #888; font-style: italic; }
.error { color: #b00; }
svg { background: #fafafa; border: 1px solid #ddd; }
.legend span { margin-right: 1em; }
</style>
</head>
<body>
<h1>Air quality</h1>
<p>Generated {{.View.GeneratedAt.Format "2006-01-02 15:04:05"}} UTC</p>

{{define "status"}}{{if eq .Status "no_data"}}<p class="nodata">No data available.</p>{{else if eq .Status "error"}}<p class="error">Unavailable: {{.Error}}</p>{{end}}{{end}}

{{define "chart"}}<svg width="{{.Width}}" height="{{.Height}}" viewBox="0 0 {{.Width}} {{.Height}}">
{{if .Band}}<polygon points="{{.Band}}" fill="#1f77b4" fill-opacity="0.2" stroke="none"/>{{end}}
{{range .Lines}}<polyline points="{{.Points}}" fill="none" stroke="{{.Color}}" stroke-width="1.5"/>
{{end}}<text x="4" y="14" font-size="11">{{.YMax}}</text>
<text x="4" y="{{.Height}}" dy="-4" font-size="11">{{.YMin}}</text>
<text x="36" y="{{.Height}}" dy="-4" font-size="11">{{.XStart}}</text>
<text x="{{.Width}}" y="{{.Height}}" dx="-110" dy="-4" font-size="11">{{.XEnd}}</text>
</svg>
<div class="legend">{{range .Lines}}<span style="color: {{.Color}}">&#9632; {{.Name}}</span>{{end}}</div>{{end}}

<section id="current">
<h2>Current {{.View.Current.Column}}</h2>
{{if .View.Current.OK}}<div class="metric">{{printf "%.1f" .View.Current.Value}}</div>
<p>Last seen {{.View.Current.Time.Format "2006-01-02 15:04:05"}} UTC</p>{{else}}{{template "status" .View.Current.Panel}}{{end}}
</section>

<section id="history">
<h2>History</h2>
{{if .View.History.OK}}{{template "chart" .History}}{{else}}{{template "status" .View.History.Panel}}{{end}}
</section>

<section id="forecast">
<h2>Forecast</h2>
{{if .View.Forecast.OK}}{{template "chart" .Forecast}}{{else}}{{template "status" .View.Forecast.Panel}}{{end}}
</section>

<section id="stats">
<h2>API stats history</h2>
{{if .View.Stats.OK}}{{template "chart" .Stats}}{{else}}{{template "status" .View.Stats.Panel}}{{end}}
</section>
</body>
</html>
`))
