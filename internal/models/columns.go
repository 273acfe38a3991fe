package models

import (
	"regexp"
	"sort"
	"strings"
)

// CanonicalPM25 is the single name every PM2.5 spelling is stored under.
const CanonicalPM25 = "pm2_5"

// pm25Pattern matches "pm2.5" in any letter case.
var pm25Pattern = regexp.MustCompile(`(?i)pm2\.5`)

var pm25Aliases = map[string]string{
	"pm2_5":  CanonicalPM25,
	"pm25":   CanonicalPM25,
	"pm_2_5": CanonicalPM25,
}

// CanonicalColumn maps the historical spellings of a metric name onto one
// canonical name. Matching ignores case: "pm2.5" and "PM2.5" become "pm2_5"
// anywhere in the name, so "PM2.5_10minute" becomes "pm2_5_10minute".
func CanonicalColumn(name string) string {
	name = strings.TrimSpace(name)
	if alias, ok := pm25Aliases[strings.ToLower(name)]; ok {
		return alias
	}
	return pm25Pattern.ReplaceAllLiteralString(name, CanonicalPM25)
}

// CanonicalMetrics renames every metric to its canonical name. When two
// spellings collapse onto the same name the canonical spelling wins, then the
// alphabetically first alias.
func CanonicalMetrics(metrics map[string]float64) map[string]float64 {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]float64, len(metrics))
	exact := make(map[string]bool, len(metrics))
	for _, name := range names {
		canonical := CanonicalColumn(name)
		if name == canonical {
			out[canonical] = metrics[name]
			exact[canonical] = true
			continue
		}
		if _, taken := out[canonical]; taken || exact[canonical] {
			continue
		}
		out[canonical] = metrics[name]
	}
	return out
}
