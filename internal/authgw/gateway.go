package authgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"offerline/internal/httpclient"
)

const (
	DefaultTimeout         = 3 * time.Second
	DefaultSessionCookie   = "sessionid"
	DefaultProfileEndpoint = "/api/auth/me/"
	DefaultLoginPage       = "/api/auth/login-page/"
	DefaultLogoutPage      = "/api/auth/logout/"
)

// DefaultAllowlist is always merged into the configured allowlist.
var DefaultAllowlist = []string{"/health", "/metrics", "/api/auth/profile"}

// fallbackCookies are checked after the configured session cookie.
var fallbackCookies = []string{"sessionid", "auth_sessionid"}

// Config configures the gateway. Zero values fall back to the defaults above,
// except Enforce and VerifySSL which are taken as given.
type Config struct {
	Enforce         bool
	BaseURL         string
	Timeout         time.Duration
	VerifySSL       bool
	SessionCookie   string
	Allowlist       []string
	ProfileEndpoint string
	LoginPage       string
	LogoutPage      string
	// LogoutRedirect is where logout returns to when the request names no
	// next; empty means the site root.
	LogoutRedirect string
	Logger         *log.Logger
}

func (c Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// Profile is the identity document returned by the auth service.
type Profile map[string]any

// UserID returns the first non-empty of id, user_id, uuid, email, username.
func (p Profile) UserID() string {
	for _, k := range []string{"id", "user_id", "uuid", "email", "username"} {
		switch v := p[k].(type) {
		case nil:
		case string:
			if v != "" {
				return v
			}
		case bool:
			if v {
				return "true"
			}
		case float64:
			if v != 0 {
				return strconv.FormatFloat(v, 'f', -1, 64)
			}
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

type profileKey struct{}

// WithProfile attaches p to ctx.
func WithProfile(ctx context.Context, p Profile) context.Context {
	return context.WithValue(ctx, profileKey{}, p)
}

// ProfileFromContext returns the profile attached by the middleware.
func ProfileFromContext(ctx context.Context) (Profile, bool) {
	p, ok := ctx.Value(profileKey{}).(Profile)
	return p, ok
}

// DeniedError is returned by Verify when a request is not authenticated.
type DeniedError struct {
	Reason string
	Err    error
}

func (e *DeniedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication denied: %s: %v", e.Reason, e.Err)
	}
	return "authentication denied: " + e.Reason
}

func (e *DeniedError) Unwrap() error { return e.Err }

// Gateway checks inbound requests against a remote session service.
type Gateway struct {
	cfg  Config
	http *httpclient.Client
}

// New builds a gateway from cfg.
func New(cfg Config) *Gateway {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = DefaultSessionCookie
	}
	if cfg.ProfileEndpoint == "" {
		cfg.ProfileEndpoint = DefaultProfileEndpoint
	}
	if cfg.LoginPage == "" {
		cfg.LoginPage = DefaultLoginPage
	}
	if cfg.LogoutPage == "" {
		cfg.LogoutPage = DefaultLogoutPage
	}
	return &Gateway{
		cfg:  cfg,
		http: httpclient.New(httpclient.Options{Timeout: cfg.Timeout, VerifyTLS: cfg.VerifySSL}),
	}
}

// Allowlisted reports whether path bypasses authentication. An entry matches
// itself and everything below it.
func (g *Gateway) Allowlisted(path string) bool {
	entries := append(append([]string{}, DefaultAllowlist...), g.cfg.Allowlist...)
	for _, entry := range entries {
		if entry == "" {
			continue
		}
		if path == entry || strings.HasPrefix(path, strings.TrimRight(entry, "/")+"/") {
			return true
		}
	}
	return false
}

// sessionCookies returns the recognized session cookies present on r, in
// priority order and without repeats.
func (g *Gateway) sessionCookies(r *http.Request) []*http.Cookie {
	names := append([]string{g.cfg.SessionCookie}, fallbackCookies...)
	seen := map[string]bool{}
	var out []*http.Cookie
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			out = append(out, &http.Cookie{Name: name, Value: c.Value})
		}
	}
	return out
}

// ProfileURL is the auth service profile endpoint.
func (g *Gateway) ProfileURL() string {
	return g.resolve(g.cfg.ProfileEndpoint)
}

func (g *Gateway) resolve(page string) string {
	if isAbsolute(page) {
		return page
	}
	return strings.TrimRight(g.cfg.BaseURL, "/") + "/" + strings.TrimLeft(page, "/")
}

// Enforcing reports whether Middleware checks requests at all.
func (g *Gateway) Enforcing() bool {
	return g.cfg.Enforce && g.cfg.BaseURL != ""
}

// Verify forwards the session cookies of r to the profile endpoint. It makes
// exactly one outbound call when a cookie is present and none otherwise. Any
// outcome but HTTP 200 is a *DeniedError.
func (g *Gateway) Verify(r *http.Request) (Profile, error) {
	cookies := g.sessionCookies(r)
	if len(cookies) == 0 {
		return nil, &DeniedError{Reason: "missing_cookie"}
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.String())
	}
	res, err := g.http.Do(r.Context(), httpclient.Request{
		Method:  http.MethodGet,
		URL:     g.ProfileURL(),
		Headers: http.Header{"Cookie": {strings.Join(parts, "; ")}, "Accept": {"application/json"}},
	})
	if err != nil {
		g.cfg.logger().Printf("authgw: auth service request failed path=%s err=%v", r.URL.Path, err)
		return nil, &DeniedError{Reason: "auth_service_error", Err: err}
	}
	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, &DeniedError{Reason: "unauthenticated"}
	default:
		g.cfg.logger().Printf("authgw: auth service unexpected status=%d path=%s", res.StatusCode, r.URL.Path)
		return nil, &DeniedError{Reason: fmt.Sprintf("status_%d", res.StatusCode)}
	}
	profile := Profile{}
	if err := json.Unmarshal(res.Body, &profile); err != nil {
		g.cfg.logger().Printf("authgw: auth service returned invalid json path=%s", r.URL.Path)
		profile = Profile{}
	}
	if profile == nil {
		profile = Profile{}
	}
	return profile, nil
}

// Middleware enforces authentication on every request that is not
// allowlisted. Verified profiles are attached to the request context.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.cfg.Enforce {
			next.ServeHTTP(w, r)
			return
		}
		if g.cfg.BaseURL == "" {
			g.cfg.logger().Printf("authgw: WARNING: enforcement skipped, auth service base url not set path=%s", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}
		if g.Allowlisted(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		profile, err := g.Verify(r)
		if err != nil {
			g.Deny(w, r, err)
			return
		}
		user := profile.UserID()
		if user == "" {
			user = "unknown"
		}
		g.cfg.logger().Printf("authgw: auth success path=%s user=%s", r.URL.Path, user)
		next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), profile)))
	})
}

// Deny answers an unauthenticated request: browser navigations are sent to
// the login page, everything else gets a 401 JSON body.
func (g *Gateway) Deny(w http.ResponseWriter, r *http.Request, err error) {
	reason := "unauthenticated"
	var de *DeniedError
	if errors.As(err, &de) {
		reason = de.Reason
	}
	g.cfg.logger().Printf("authgw: auth failure path=%s reason=%s", r.URL.Path, reason)
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && !isAPIRequest(r) {
		http.Redirect(w, r, g.LoginURL(absoluteURL(r, r.URL.RequestURI())), http.StatusFound)
		return
	}
	writeUnauthorized(w, reason)
}

// LoginURL is the login page with next set.
func (g *Gateway) LoginURL(next string) string {
	return g.resolve(g.cfg.LoginPage) + "?" + url.Values{"next": {next}}.Encode()
}

// LogoutHandler clears the session cookies and redirects to the auth
// service logout page. next defaults to the site root.
func (g *Gateway) LogoutHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next := r.URL.Query().Get("next")
		if next == "" {
			next = g.cfg.LogoutRedirect
		}
		if next == "" {
			next = absoluteURL(r, "/")
		}
		target := g.cfg.LogoutPage
		if !isAbsolute(target) && g.cfg.BaseURL != "" {
			target = g.resolve(target)
		}
		seen := map[string]bool{}
		for _, name := range append([]string{g.cfg.SessionCookie}, fallbackCookies...) {
			if seen[name] {
				continue
			}
			seen[name] = true
			http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1, Expires: time.Unix(0, 0)})
		}
		http.Redirect(w, r, target+"?"+url.Values{"next": {next}}.Encode(), http.StatusFound)
	})
}

func isAPIRequest(r *http.Request) bool {
	if strings.Contains(strings.ToLower(r.Header.Get("Accept")), "application/json") {
		return true
	}
	if strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		return true
	}
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func isAbsolute(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func absoluteURL(r *http.Request, requestURI string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + requestURI
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeUnauthorized(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(struct {
		Error errorBody `json:"error"`
	}{errorBody{Code: "unauthorized", Message: "Authentication required.", Details: map[string]any{"reason": reason}}})
}
