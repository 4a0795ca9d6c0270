package usage

import (
	"html/template"
	"io"
	"sort"
	"strings"
)

// Row is one path line of the HTML metrics table.
type Row struct {
	Path    string
	Get     int64
	Set     int64
	Migrate int64
}

// Rows merges the snapshot into one row per path, busiest paths first.
func (s Snapshot) Rows() []Row {
	byPath := make(map[string]*Row)
	row := func(path string) *Row {
		r, ok := byPath[path]
		if !ok {
			r = &Row{Path: path}
			byPath[path] = r
		}
		return r
	}
	for path, n := range s.GetCount {
		row(path).Get = n
	}
	for path, n := range s.SetCount {
		row(path).Set = n
	}
	for path, n := range s.MigrateCount {
		row(path).Migrate = n
	}

	rows := make([]Row, 0, len(byPath))
	for _, r := range byPath {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Get != rows[j].Get {
			return rows[i].Get > rows[j].Get
		}
		return rows[i].Path < rows[j].Path
	})
	return rows
}

var pageTemplate = template.Must(template.New("metrics").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 1em; }
table { border-collapse: collapse; }
th, td { padding: .25em .75em; text-align: right; border-bottom: 1px solid #ddd; }
th:first-child, td:first-child { text-align: left; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<table>
<thead><tr><th>path</th><th>get</th><th>set</th><th>migrate</th></tr></thead>
<tbody>
{{- range .Rows}}
<tr><td>{{.Path}}</td><td>{{.Get}}</td><td>{{.Set}}</td><td>{{.Migrate}}</td></tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`))

// RenderHTML writes the snapshot as a simple HTML table page.
func RenderHTML(w io.Writer, title string, snap Snapshot) error {
	return pageTemplate.Execute(w, struct {
		Title string
		Rows  []Row
	}{
		Title: title,
		Rows:  snap.Rows(),
	})
}

// WantsHTML picks the HTML rendering from the User-Agent. The polarity differs
// between deployments: with htmlForMobile set, "Mobile" user agents get HTML
// and everything else JSON; without it the opposite.
func WantsHTML(userAgent string, htmlForMobile bool) bool {
	mobile := strings.Contains(userAgent, "Mobile")
	return mobile == htmlForMobile
}
