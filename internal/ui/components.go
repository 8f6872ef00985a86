package ui

import (
	"context"
	"fmt"
	"html"
	"io"

	"github.com/a-h/templ"
)

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\">")
		if err != nil {
			return err
		}

		_, err = io.WriteString(w, "<head><meta charset=\"utf-8\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "<title>%s</title></head><body>", html.EscapeString(title))
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</body></html>")
		return err
	})
}

// IndexPage renders the usage text. baseURL is the externally visible
// address of the service and only shows up in the examples.
func IndexPage(baseURL string) templ.Component {
	return Layout("pastebin", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		base := html.EscapeString(baseURL)
		_, err := fmt.Fprintf(w, `<pre>
    USAGE

      POST /

          accepts raw data in the body of the request and responds with a URL of
          a page containing the body's content

          EXAMPLE: curl --data-binary @file.txt %[1]s

      POST /encrypted

          same as POST /, but the content is stored inside a password protected,
          compressed archive

      GET /&lt;id&gt;

          retrieves the content for the paste with id `+"`&lt;id&gt;`"+`
          add ?mime_type=&lt;type&gt; to override the Content-Type of the response

      DELETE /&lt;id&gt;

          deletes the paste with id `+"`&lt;id&gt;`"+`

    UPLOAD VIA BROWSER

      GET <a href="%[1]s/upload">%[1]s/upload</a>

          provides a simple upload UI
</pre>`, base)
		return err
	}))
}

// UploadPage renders the browser upload form. The file is posted back to the
// same URL as the multipart field "file".
func UploadPage() templ.Component {
	return Layout("pastebin - upload", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<form method=\"post\" enctype=\"multipart/form-data\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<input type=\"file\" name=\"file\" id=\"file\" />")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<button type=\"submit\">Upload</button></form>")
		return err
	}))
}
