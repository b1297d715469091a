// Package render builds the HTML pages shown to link recipients.
package render

import (
	"bytes"
	"html/template"
	"strings"
)

const baseStyle = `
      body {
        font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Arial;
        margin: 0;
        background: #f6f7fb;
        color: #111827;
      }
      .wrap { max-width: 860px; margin: 0 auto; padding: 32px 16px; }
      .card {
        background: white;
        border-radius: 18px;
        box-shadow: 0 10px 30px rgba(0,0,0,.08);
        overflow: hidden;
      }
      .hero {
        width: 100%;
        display: block;
        object-fit: cover;
        max-height: 420px;
        background: #e5e7eb;
      }
      .content { padding: 22px 22px 26px; }
      h1 { font-size: 22px; margin: 0 0 10px; letter-spacing: -0.01em; }
      .p { font-size: 16px; line-height: 1.6; margin: 0; color: #374151; }
      .meta { margin-top: 14px; font-size: 12px; color: #9ca3af; }
`

var pages = template.Must(template.New("view").Parse(`<!doctype html>
<html>
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width,initial-scale=1"/>
    <meta name="referrer" content="no-referrer"/>
    <title>Your message</title>
    <style>{{.Style}}</style>
  </head>
  <body>
    <div class="wrap">
      <div class="card">
        <img class="hero" src="{{.ImageSrc}}" alt="Image"/>
        <div class="content">
          <h1>{{.Heading}}</h1>
          <p class="p">{{range $i, $line := .Lines}}{{if $i}}<br/>{{end}}{{$line}}{{end}}</p>
          <div class="meta">This link expires automatically.</div>
        </div>
      </div>
    </div>
  </body>
</html>
`))

func init() {
	template.Must(pages.New("status").Parse(`<!doctype html>
<html>
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width,initial-scale=1"/>
    <title>{{.Title}}</title>
  </head>
  <body>
    <h2>{{.Title}}</h2>
  </body>
</html>
`))
}

// DefaultHeading is the greeting above the message.
const DefaultHeading = "To My Beloved..."

type ViewData struct {
	Heading string
	Text    string
	// ImageSrc is the external image URL or the same-origin /image/<token> path.
	ImageSrc string
}

// View renders the message page. Text is HTML-escaped and newlines become <br/>.
func View(d ViewData) ([]byte, error) {
	heading := d.Heading
	if heading == "" {
		heading = DefaultHeading
	}
	text := strings.ReplaceAll(d.Text, "\r\n", "\n")

	var buf bytes.Buffer
	err := pages.ExecuteTemplate(&buf, "view", struct {
		Style    template.CSS
		Heading  string
		Lines    []string
		ImageSrc string
	}{
		Style:    template.CSS(baseStyle),
		Heading:  heading,
		Lines:    strings.Split(text, "\n"),
		ImageSrc: d.ImageSrc,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Status renders a minimal page with one heading, e.g. "Link expired".
func Status(title string) ([]byte, error) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, "status", struct{ Title string }{title}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
