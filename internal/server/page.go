package server

import (
	"fmt"
	"html/template"
	"strings"
)

var languageColors = map[string]string{
	"en": "#1f77b4",
	"es": "#ff7f0e",
	"fr": "#2ca02c",
	"de": "#9467bd",
	"zh": "#8c564b",
	"ja": "#e377c2",
}

var pageFuncs = template.FuncMap{
	"color": func(lang string) string {
		if c, ok := languageColors[lang]; ok {
			return c
		}
		return "#666"
	},
	"stars": func(n int) string {
		if n < 0 {
			n = 0
		}
		return strings.Repeat("★", n)
	},
	"score": func(f float64) string {
		return fmt.Sprintf("%.3f", f)
	},
	"seq": func(n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = i + 1
		}
		return out
	},
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Review Search</title>
<style>
body { font-family: sans-serif; margin: 2rem auto; max-width: 60rem; }
.badge { color: #fff; border-radius: 4px; padding: 2px 6px; font-size: 0.8rem; }
table { border-collapse: collapse; width: 100%; margin-top: 1rem; }
td, th { border-bottom: 1px solid #ddd; padding: 6px; text-align: left; vertical-align: top; }
.error { color: #b00020; }
</style>
</head>
<body>
<h1>Multilingual Review Search</h1>
<form method="get" action="/">
  <input type="text" name="q" value="{{.Query}}" size="60" placeholder="Search reviews">
  <fieldset>
    <legend>Languages (none = all)</legend>
    {{range .Languages}}<label><input type="checkbox" name="lang" value="{{.}}"{{if index $.Selected .}} checked{{end}}> {{.}}</label> {{end}}
  </fieldset>
  <label>Limit
    <select name="limit">
      {{range seq .MaxLimit}}<option value="{{.}}"{{if eq . $.Limit}} selected{{end}}>{{.}}</option>{{end}}
    </select>
  </label>
  <button type="submit">Search</button>
</form>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{with .Result}}
  {{range $lang, $msg := .Errors}}<p class="error">Query failed for shard {{$lang}}: {{$msg}}</p>{{end}}
  {{if .Hits}}
  <table>
    <tr><th>Lang</th><th>★</th><th>Score</th><th>Review</th></tr>
    {{range .Hits}}
    <tr>
      <td><span class="badge" style="background:{{color .Language}}">{{.Language}}</span></td>
      <td>{{stars .Stars}}</td>
      <td>{{score .Score}}</td>
      <td>{{.Text}}</td>
    </tr>
    {{end}}
  </table>
  <p><a href="{{$.CSVURL}}">Download CSV</a></p>
  {{else}}
  <p>No results.</p>
  {{end}}
{{end}}
</body>
</html>
`
