// Package web holds the embedded HTML templates.
package web

import (
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Templates parses every embedded template with the shared helpers.
func Templates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"localTime": localTime,
	}).ParseFS(templateFS, "templates/*.tmpl")
}

// localTime formats t in the named IANA zone, falling back to UTC.
func localTime(t time.Time, zone string) string {
	if t.IsZero() {
		return ""
	}
	loc, err := time.LoadLocation(zone)
	if err != nil || zone == "" {
		loc = time.UTC
	}
	return t.In(loc).Format("Mon 1/2/2006 3:04 PM")
}
