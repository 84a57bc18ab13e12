package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/bitovi/cascade-mcp-sub005/providers/mock"
)

// hubBrowser drives the hub endpoints while carrying the flow cookie,
// the way a real browser would.
type hubBrowser struct {
	t       *testing.T
	fx      *testFixture
	cookies []*http.Cookie
}

func (b *hubBrowser) get(target string) *httptest.ResponseRecorder {
	b.t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	b.fx.mux.ServeHTTP(rec, req)
	if cs := rec.Result().Cookies(); len(cs) > 0 {
		b.cookies = cs
	}
	return rec
}

func (b *hubBrowser) connect(provider string) {
	b.t.Helper()

	rec := b.get("/auth/connect/" + provider)
	if rec.Code != http.StatusFound {
		b.t.Fatalf("connect %s status = %d, want 302: %s", provider, rec.Code, rec.Body.String())
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		b.t.Fatalf("parsing upstream redirect: %v", err)
	}
	state := loc.Query().Get("state")

	rec = b.get("/auth/callback/" + provider + "?code=code-" + provider + "&state=" + url.QueryEscape(state))
	if rec.Code != http.StatusFound {
		b.t.Fatalf("callback %s status = %d, want 302: %s", provider, rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != testBaseURL+"/auth/connect" {
		b.t.Fatalf("callback redirect = %q, want the hub page", got)
	}
}

func TestHubPageRendersProviders(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{},
		&mock.Client{ProviderName: "atlassian"},
		&mock.Client{ProviderName: "figma"},
	)
	b := &hubBrowser{t: t, fx: fx}

	rec := b.get("/auth/connect")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, provider := range []string{"atlassian", "figma"} {
		if !strings.Contains(body, "/auth/connect/"+provider) {
			t.Errorf("hub page missing connect link for %s", provider)
		}
	}
	if !strings.Contains(body, "Connect at least one provider") {
		t.Error("hub page should not offer Done before any connection")
	}
}

func TestHubConnectAndFinishManually(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{},
		&mock.Client{ProviderName: "atlassian"},
		&mock.Client{ProviderName: "figma"},
	)
	b := &hubBrowser{t: t, fx: fx}

	b.get("/auth/connect")
	b.connect("atlassian")
	b.connect("figma")

	rec := b.get("/auth/connect")
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>atlassian</strong>") || !strings.Contains(body, "<strong>figma</strong>") {
		t.Errorf("hub page does not list both connections: %s", body)
	}
	if !strings.Contains(body, "/auth/done") {
		t.Error("hub page missing the Done link after connecting")
	}

	rec = b.get("/auth/done")
	if rec.Code != http.StatusOK {
		t.Fatalf("done status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body = rec.Body.String()
	if !strings.Contains(body, "Your access token") {
		t.Errorf("done did not render the manual token page: %s", body)
	}

	// The rendered access token must verify and carry both credentials.
	start := strings.Index(body, "<pre>") + len("<pre>")
	end := strings.Index(body, "</pre>")
	accessToken := strings.TrimSpace(body[start:end])

	claims, err := fx.server.Codec().Verify(accessToken)
	if err != nil {
		t.Fatalf("rendered token does not verify: %v", err)
	}
	names := claims.ProviderNames()
	if len(names) != 2 || names[0] != "atlassian" || names[1] != "figma" {
		t.Errorf("token providers = %v, want both", names)
	}
}

func TestHubDoneRedirectsToClient(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "figma"})
	b := &hubBrowser{t: t, fx: fx}

	params := url.Values{
		"client_id":             {"client-1"},
		"redirect_uri":          {"https://app.example.com/cb"},
		"state":                 {"client-state"},
		"code_challenge":        {"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"},
		"code_challenge_method": {"S256"},
	}
	b.get("/auth/connect?" + params.Encode())
	b.connect("figma")

	rec := b.get("/auth/done")
	if rec.Code != http.StatusFound {
		t.Fatalf("done status = %d, want 302: %s", rec.Code, rec.Body.String())
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing client redirect: %v", err)
	}
	if loc.Host != "app.example.com" {
		t.Errorf("redirect host = %q, want the client", loc.Host)
	}
	if loc.Query().Get("code") == "" {
		t.Error("client redirect carries no authorization code")
	}
	if got := loc.Query().Get("state"); got != "client-state" {
		t.Errorf("redirect state = %q, want %q", got, "client-state")
	}

	// Done is single-shot: the flow session is gone.
	if _, err := fx.server.CompleteHub(context.Background(), "ignored"); err == nil {
		t.Error("CompleteHub with an unknown session should fail")
	}
	rec = b.get("/auth/done")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("second done status = %d, want 400", rec.Code)
	}
}

func TestHubDoneWithoutConnections(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "figma"})
	b := &hubBrowser{t: t, fx: fx}

	b.get("/auth/connect")
	rec := b.get("/auth/done")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Connect at least one provider") {
		t.Errorf("body = %s, want the connect-first page", rec.Body.String())
	}
}

func TestHubCallbackProviderError(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "figma"})
	b := &hubBrowser{t: t, fx: fx}

	b.get("/auth/connect")
	rec := b.get("/auth/callback/figma?error=access_denied")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "denied the connection request") {
		t.Errorf("body = %s, want the provider-denied page", rec.Body.String())
	}
}
