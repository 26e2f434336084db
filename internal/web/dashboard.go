// Package web serves the live run dashboard.
package web

import (
	"bytes"
	_ "embed"
	"html/template"
	"net/http"
)

//go:embed dashboard.html
var dashboardHTML string

var dashboardTemplate = template.Must(template.New("dashboard").Parse(dashboardHTML))

// Dashboard returns a handler for the dashboard page. The page follows run
// progress over the WebSocket endpoint at wsPath.
func Dashboard(wsPath string) (http.Handler, error) {
	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, struct{ WSPath string }{wsPath}); err != nil {
		return nil, err
	}
	page := buf.Bytes()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Write(page)
	}), nil
}
