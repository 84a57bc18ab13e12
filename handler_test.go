package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bitovi/cascade-mcp-sub005/providers"
	"github.com/bitovi/cascade-mcp-sub005/providers/mock"
	"github.com/bitovi/cascade-mcp-sub005/server"
	"github.com/bitovi/cascade-mcp-sub005/storage"
	"github.com/bitovi/cascade-mcp-sub005/storage/memory"
	"github.com/bitovi/cascade-mcp-sub005/token"
)

const testBaseURL = "https://bridge.example.com"

type testFixture struct {
	handler *Handler
	server  *server.Server
	store   *memory.Store
	mux     *http.ServeMux
}

func newTestFixture(t *testing.T, cfg HandlerConfig, clients ...providers.Client) *testFixture {
	t.Helper()

	registry := providers.NewRegistry()
	for _, c := range clients {
		if err := registry.Register(c); err != nil {
			t.Fatalf("Register(%s) error = %v", c.Name(), err)
		}
	}

	codec, err := token.NewCodec(token.Config{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Issuer: testBaseURL,
	})
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	store := memory.New()
	t.Cleanup(store.Stop)

	srv, err := server.New(server.Options{
		Config:      server.Config{BaseURL: testBaseURL},
		Registry:    registry,
		FlowStore:   store,
		CodeStore:   store,
		ClientStore: store,
		Codec:       codec,
		CookieKey:   make([]byte, 32),
	})
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	h, err := NewHandler(srv, nil, cfg)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	t.Cleanup(h.Close)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	return &testFixture{handler: h, server: srv, store: store, mux: mux}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return body
}

// mintAccessToken signs a bridge access token carrying one credential.
func mintAccessToken(t *testing.T, fx *testFixture, ttl time.Duration) string {
	t.Helper()
	raw, err := fx.server.Codec().Sign(&token.Claims{
		TokenUse: token.UseAccess,
		Providers: map[string]token.Credential{
			"atlassian": {
				AccessToken: "upstream-access",
				ExpiresAt:   time.Now().Add(time.Hour).Unix(),
			},
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "user-1",
			Audience: jwt.ClaimStrings{testBaseURL},
		},
	}, ttl)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return raw
}

func TestServeAuthServerMetadata(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})

	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, wellKnownAuthServer, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeJSON(t, rec)
	if got := body["issuer"]; got != testBaseURL {
		t.Errorf("issuer = %v, want %q", got, testBaseURL)
	}
	if got := body["token_endpoint"]; got != testBaseURL+"/access-token" {
		t.Errorf("token_endpoint = %v", got)
	}
	if got := body["code_challenge_methods_supported"]; len(got.([]any)) != 1 || got.([]any)[0] != "S256" {
		t.Errorf("code_challenge_methods_supported = %v, want [S256]", got)
	}
	if got := body["token_endpoint_auth_methods_supported"]; got.([]any)[0] != "none" {
		t.Errorf("token_endpoint_auth_methods_supported = %v, want [none]", got)
	}
	scopes := body["scopes_supported"].([]any)
	if len(scopes) != 2 || scopes[0] != "read" || scopes[1] != "write" {
		t.Errorf("scopes_supported = %v, want [read write]", scopes)
	}
}

func TestServeProtectedResourceMetadata(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})

	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, wellKnownProtectedResource, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeJSON(t, rec)
	if got := body["resource"]; got != testBaseURL {
		t.Errorf("resource = %v, want %q", got, testBaseURL)
	}
	methods := body["bearer_methods_supported"].([]any)
	if len(methods) != 2 || methods[0] != "header" || methods[1] != "query" {
		t.Errorf("bearer_methods_supported = %v, want [header query]", methods)
	}
}

func TestServeClientRegistration(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})

	req := httptest.NewRequest(http.MethodPost, "/register",
		strings.NewReader(`{"client_name":"Trident","redirect_uris":["vscode://redirect","https://app.example.com/cb"]}`))
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSON(t, rec)
	clientID, _ := body["client_id"].(string)
	if clientID == "" {
		t.Error("client_id missing from registration response")
	}
	if _, ok := body["client_secret"]; ok {
		t.Error("public client registration must not issue a client_secret")
	}
	if got := body["token_endpoint_auth_method"]; got != "none" {
		t.Errorf("token_endpoint_auth_method = %v, want none", got)
	}
	uris := body["redirect_uris"].([]any)
	if len(uris) != 2 {
		t.Errorf("redirect_uris = %v, want both kept", uris)
	}

	stored, err := fx.store.GetClient(context.Background(), clientID)
	if err != nil {
		t.Fatalf("registered client not persisted: %v", err)
	}
	if stored.ClientName != "Trident" {
		t.Errorf("ClientName = %q", stored.ClientName)
	}
}

func TestServeClientRegistrationRejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"no redirect URIs", `{"client_name":"x"}`, ErrorCodeInvalidRedirectURI},
		{"only invalid URIs", `{"redirect_uris":["not a uri","relative/path"]}`, ErrorCodeInvalidRedirectURI},
		{"malformed JSON", `{"redirect_uris":`, ErrorCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})

			rec := httptest.NewRecorder()
			fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(tt.body)))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := decodeJSON(t, rec)["error"]; got != tt.wantCode {
				t.Errorf("error = %v, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestRegistrationRateLimit(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{
		RegistrationRatePerSecond: 1,
		RegistrationBurst:         2,
	}, &mock.Client{ProviderName: "atlassian"})

	body := `{"redirect_uris":["https://app.example.com/cb"]}`
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body)))
		if rec.Code != http.StatusCreated {
			t.Fatalf("request %d status = %d, want 201", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body)))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := decodeJSON(t, rec)["error"]; got != ErrorCodeRateLimitExceeded {
		t.Errorf("error = %v, want %q", got, ErrorCodeRateLimitExceeded)
	}
}

func TestRequireAuth(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})

	var gotSubject string
	protected := fx.handler.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ac, ok := token.AuthContextFrom(r.Context()); ok {
			gotSubject = ac.Subject()
		}
		w.WriteHeader(http.StatusOK)
	}))

	valid := mintAccessToken(t, fx, time.Hour)

	tests := []struct {
		name       string
		prepare    func(r *http.Request)
		wantStatus int
		wantDesc   string
	}{
		{
			name:       "missing token",
			prepare:    func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
			wantDesc:   "No bearer token found in Authorization header or token query parameter",
		},
		{
			name: "garbage token",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer not-a-jwt")
			},
			wantStatus: http.StatusUnauthorized,
			wantDesc:   "Token validation failed",
		},
		{
			name: "header token",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+valid)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "query token",
			prepare: func(r *http.Request) {
				q := r.URL.Query()
				q.Set("token", valid)
				r.URL.RawQuery = q.Encode()
			},
			wantStatus: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				if gotSubject != "user-1" {
					t.Errorf("subject from context = %q, want %q", gotSubject, "user-1")
				}
				return
			}
			if got := decodeJSON(t, rec)["error_description"]; got != tt.wantDesc {
				t.Errorf("error_description = %v, want %q", got, tt.wantDesc)
			}
			if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
				t.Errorf("Cache-Control = %q, want no-store", cc)
			}
		})
	}
}

func TestRequireAuthRejectsCredentiallessToken(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})

	bare, err := fx.server.Codec().Sign(&token.Claims{
		TokenUse: token.UseAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "user-1",
			Audience: jwt.ClaimStrings{testBaseURL},
		},
	}, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+bare)

	_, err = fx.handler.Authenticate(req)
	if err == nil {
		t.Fatal("Authenticate() accepted a token with no provider credential")
	}
	if !strings.Contains(err.Error(), "carries no provider credential") {
		t.Errorf("error = %v, want the missing-credential description", err)
	}
	var ae *authError
	if !errors.As(err, &ae) || ae.code != ErrorCodeInvalidToken {
		t.Errorf("error code = %v, want %q", err, ErrorCodeInvalidToken)
	}
}

func TestRequireAuthRejectsRefreshToken(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})

	refresh, err := fx.server.Codec().Sign(&token.Claims{
		TokenUse: token.UseRefresh,
		Providers: map[string]token.Credential{
			"atlassian": {RefreshToken: "upstream-refresh"},
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "user-1",
			Audience: jwt.ClaimStrings{testBaseURL},
		},
	}, token.RefreshTTL)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	protected := fx.handler.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("a refresh token reached the protected handler")
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+refresh)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := decodeJSON(t, rec)["error_description"]; got != "Refresh tokens cannot be used as bearer tokens" {
		t.Errorf("error_description = %v, want the refresh rejection", got)
	}
}

func TestWWWAuthenticateChallenge(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})

	tests := []struct {
		name       string
		clientName string
		userAgent  string
		wantParam  string
	}{
		{"standard client", "", "curl/8.0", "resource_metadata="},
		{"vscode by client name", "Visual Studio Code", "", "resource_metadata_url="},
		{"vscode by user agent", "", "node", "resource_metadata_url="},
		{"named client overrides user agent", "mcp-inspector", "node", "resource_metadata="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
			if tt.userAgent != "" {
				req.Header.Set("User-Agent", tt.userAgent)
			}
			rec := httptest.NewRecorder()
			fx.handler.WriteUnauthorized(rec, req, tt.clientName, ErrorCodeInvalidToken, "Token is expired")

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			challenge := rec.Header().Get("WWW-Authenticate")
			if !strings.HasPrefix(challenge, `Bearer realm="mcp"`) {
				t.Errorf("challenge = %q, want Bearer realm=\"mcp\" prefix", challenge)
			}
			if !strings.Contains(challenge, tt.wantParam+`"`+testBaseURL+wellKnownProtectedResource+`"`) {
				t.Errorf("challenge = %q, want %s parameter", challenge, tt.wantParam)
			}
			if tt.wantParam == "resource_metadata=" && strings.Contains(challenge, "resource_metadata_url") {
				t.Errorf("challenge = %q, carries the non-standard parameter", challenge)
			}
			if !strings.Contains(challenge, `error="invalid_token"`) {
				t.Errorf("challenge = %q, missing error parameter", challenge)
			}
		})
	}
}

func TestServeTokenGrants(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})
	ctx := context.Background()

	if err := fx.store.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code:         "upstream-1",
		Kind:         storage.CodeKindUpstream,
		Provider:     "atlassian",
		CodeVerifier: "bridge-verifier",
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {"upstream-1"},
	}
	req := httptest.NewRequest(http.MethodPost, "/access-token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSON(t, rec)
	accessToken, _ := body["access_token"].(string)
	refreshToken, _ := body["refresh_token"].(string)
	if accessToken == "" || refreshToken == "" {
		t.Fatal("token response is missing the minted pair")
	}
	if got := body["token_type"]; got != "Bearer" {
		t.Errorf("token_type = %v, want Bearer", got)
	}

	// The /refresh-token path implies the grant type.
	form = url.Values{"refresh_token": {refreshToken}}
	req = httptest.NewRequest(http.MethodPost, "/refresh-token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body = decodeJSON(t, rec)
	if body["access_token"] == accessToken {
		t.Error("refresh returned the old access token")
	}
}

func TestServeTokenJSONBody(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})
	ctx := context.Background()

	if err := fx.store.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code:      "upstream-1",
		Kind:      storage.CodeKindUpstream,
		Provider:  "atlassian",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/access-token",
		strings.NewReader(`{"grant_type":"authorization_code","code":"upstream-1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestServeTokenUnsupportedGrant(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})

	form := url.Values{"grant_type": {"password"}}
	req := httptest.NewRequest(http.MethodPost, "/access-token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decodeJSON(t, rec)["error"]; got != ErrorCodeUnsupportedGrantType {
		t.Errorf("error = %v, want %q", got, ErrorCodeUnsupportedGrantType)
	}
}

func TestServeAuthorizationRedirect(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})

	req := httptest.NewRequest(http.MethodGet, "/authorize?provider=atlassian", nil)
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "https://auth.example.com/atlassian/authorize?") {
		t.Errorf("Location = %q, want the upstream authorize URL", loc)
	}

	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == server.CookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("no flow-session cookie set")
	}
	if !sessionCookie.HttpOnly || !sessionCookie.Secure {
		t.Error("session cookie must be HttpOnly and Secure on an https base URL")
	}
}

func TestServeCallbackFlow(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})
	ctx := context.Background()

	// Start a flow to obtain the session cookie and upstream state.
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/authorize?provider=atlassian", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want 302", rec.Code)
	}
	cookies := rec.Result().Cookies()
	loc, _ := url.Parse(rec.Header().Get("Location"))
	state := loc.Query().Get("state")

	req := httptest.NewRequest(http.MethodGet, "/callback?code=upstream-code&state="+url.QueryEscape(state), nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)

	// No client redirect URI was bound, so the code renders for manual
	// exchange.
	if rec.Code != http.StatusOK {
		t.Fatalf("callback status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Authorization complete") {
		t.Errorf("callback body does not render the code page: %s", rec.Body.String())
	}

	// The rendered code must be redeemable. Pull it from the store via
	// the page body boundaries.
	bodyStr := rec.Body.String()
	start := strings.Index(bodyStr, "<pre>") + len("<pre>")
	end := strings.Index(bodyStr, "</pre>")
	code := strings.TrimSpace(bodyStr[start:end])

	record, err := fx.store.AtomicConsumeAuthorizationCode(ctx, code)
	if err != nil {
		t.Fatalf("rendered code not redeemable: %v", err)
	}
	if record.Kind != storage.CodeKindUpstream {
		t.Errorf("Kind = %q, want %q", record.Kind, storage.CodeKindUpstream)
	}
}

func TestServeCallbackTamperedCookie(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})

	req := httptest.NewRequest(http.MethodGet, "/callback?code=x&state=y", nil)
	req.AddCookie(&http.Cookie{Name: server.CookieName, Value: "tampered"})
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "session has expired") {
		t.Errorf("body = %s, want the expired-session page", rec.Body.String())
	}
}

func TestServeCallbackProviderError(t *testing.T) {
	fx := newTestFixture(t, HandlerConfig{}, &mock.Client{ProviderName: "atlassian"})

	req := httptest.NewRequest(http.MethodGet, "/callback?error=access_denied&error_description=denied", nil)
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "denied the authorization request") {
		t.Errorf("body = %s, want the provider-denied page", rec.Body.String())
	}
}

func TestValidRedirectURIs(t *testing.T) {
	got := validRedirectURIs([]string{
		"https://app.example.com/cb",
		"vscode://redirect",
		"not a uri",
		"relative/path",
		"",
	})
	want := []string{"https://app.example.com/cb", "vscode://redirect"}
	if len(got) != len(want) {
		t.Fatalf("validRedirectURIs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("validRedirectURIs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRequestIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote addr", "10.0.0.1:1234", "", "10.0.0.1"},
		{"forwarded single", "10.0.0.1:1234", "203.0.113.7", "203.0.113.7"},
		{"forwarded chain", "10.0.0.1:1234", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := requestIP(req); got != tt.want {
				t.Errorf("requestIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
