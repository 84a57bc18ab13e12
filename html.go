package bridge

import (
	"html/template"
	"net/http"

	"github.com/bitovi/cascade-mcp-sub005/server"
)

var hubPageTemplate = template.Must(template.New("hub").Parse(`<!DOCTYPE html>
<html>
<head><title>Connect Providers</title></head>
<body>
<h1>Connect your accounts</h1>
<ul>
{{range .Available}}
  <li><a href="/auth/connect/{{.}}">Connect {{.}}</a></li>
{{end}}
</ul>
{{if .Connected}}
<p>Connected: {{range .Connected}}<strong>{{.}}</strong> {{end}}</p>
{{end}}
{{if .CanFinish}}
<p><a href="/auth/done">Done</a></p>
{{else}}
<p>Connect at least one provider to continue.</p>
{{end}}
</body>
</html>
`))

var tokenPageTemplate = template.Must(template.New("token").Parse(`<!DOCTYPE html>
<html>
<head><title>Access Token</title></head>
<body>
<h1>Your access token</h1>
<p>Providers: {{range .Providers}}<strong>{{.}}</strong> {{end}}</p>
<p>Copy this token into your client configuration. It expires in {{.ExpiresIn}} seconds.</p>
<pre>{{.AccessToken}}</pre>
<h2>Refresh token</h2>
<pre>{{.RefreshToken}}</pre>
</body>
</html>
`))

var codePageTemplate = template.Must(template.New("code").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorization Code</title></head>
<body>
<h1>Authorization complete</h1>
<p>Exchange this code at the token endpoint:</p>
<pre>{{.Code}}</pre>
</body>
</html>
`))

var errorPageTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorization Error</title></head>
<body>
<h1>Something went wrong</h1>
<p>{{.Message}}</p>
<p><a href="{{.RetryURL}}">Try again</a></p>
</body>
</html>
`))

func (h *Handler) serveHubPage(w http.ResponseWriter, status *server.HubStatus) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := hubPageTemplate.Execute(w, status); err != nil {
		h.logger.Warn("Failed to render hub page", "error", err)
	}
}

func (h *Handler) serveTokenPage(w http.ResponseWriter, completion *server.HubCompletion) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tokenPageTemplate.Execute(w, completion); err != nil {
		h.logger.Warn("Failed to render token page", "error", err)
	}
}

func (h *Handler) serveCodePage(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := codePageTemplate.Execute(w, struct{ Code string }{code}); err != nil {
		h.logger.Warn("Failed to render code page", "error", err)
	}
}

func (h *Handler) serveErrorPage(w http.ResponseWriter, status int, message, retryURL string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	err := errorPageTemplate.Execute(w, struct {
		Message  string
		RetryURL string
	}{message, retryURL})
	if err != nil {
		h.logger.Warn("Failed to render error page", "error", err)
	}
}
