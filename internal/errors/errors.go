// Package errors provides the structured error kinds raised while resolving,
// invoking and rendering a request, and the HTML error page they are
// published as.
package errors

import (
	"fmt"
	"html"
	"net/http"
	"strings"
)

// Page is a published error response.
type Page struct {
	Status int
	Body   string
}

// NewPage builds the response for err. With reporting enabled the body
// carries the message and the %+v detail of the error, which includes a stack
// trace when one was recorded. Otherwise the client only sees the status text.
func NewPage(err error, reporting bool) Page {
	status := StatusCode(err)
	if !reporting {
		return Page{Status: status, Body: http.StatusText(status)}
	}

	var b strings.Builder
	b.WriteString("<h1>Convey Error</h1>")
	b.WriteString("<p><strong>")
	b.WriteString(html.EscapeString(message(err)))
	b.WriteString("</strong></p>")
	b.WriteString("<pre><code>")
	b.WriteString(html.EscapeString(fmt.Sprintf("%+v", err)))
	b.WriteString("</code></pre>")

	return Page{Status: status, Body: b.String()}
}

// Write sends the page to w.
func (p Page) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(p.Status)
	_, _ = w.Write([]byte(p.Body))
}

func message(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Error()
	}
	return err.Error()
}
