// Package guard decides, before any handler runs, whether a request path may
// be served to the resolved principal or must be redirected.
package guard

import (
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/qrfeedback/platform/internal/auth"
	"github.com/qrfeedback/platform/internal/profile"
)

// Outcome is the result class of a guard decision.
type Outcome string

const (
	OutcomeAllow     Outcome = "allow"
	OutcomeLogin     Outcome = "login"
	OutcomeWrongRole Outcome = "wrong_role"
	OutcomeForbidden Outcome = "forbidden"
	OutcomeInactive  Outcome = "inactive"
)

// Decision is either Allow or a redirect target.
type Decision struct {
	Outcome    Outcome `json:"outcome"`
	RedirectTo string  `json:"redirectTo,omitempty"`
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}

// Rules is the ordered prefix table. Public is checked first, then Owner,
// Admin and Protected; anything unmatched is allowed.
type Rules struct {
	Public    []string
	Owner     []string
	Admin     []string
	Protected []string

	LoginPath     string
	WrongRolePath string
	ForbiddenPath string
	InactivePath  string
}

// DefaultRules returns the platform's route table.
func DefaultRules() Rules {
	return Rules{
		Public:    []string{"/auth", "/v1/auth", "/static", "/assets", "/widget", "/favicon.ico"},
		Owner:     []string{"/dashboard", "/v1/owner"},
		Admin:     []string{"/admin", "/v1/admin"},
		Protected: []string{"/account", "/v1/account", "/settings"},

		LoginPath:     "/auth/login",
		WrongRolePath: "/wrong-role",
		ForbiddenPath: "/forbidden",
		InactivePath:  "/subscription/inactive",
	}
}

// Guard evaluates Rules. It never touches a store; everything it needs is
// on the principal.
type Guard struct {
	rules Rules
	now   func() time.Time
}

// New creates a guard over rules.
func New(rules Rules) *Guard {
	return &Guard{rules: rules, now: time.Now}
}

// Authorize decides for a request URI (path plus optional query). The path
// is percent-decoded before matching so "/v1/%6Fwner" is judged as
// "/v1/owner". p is nil when no identity was resolved.
func (g *Guard) Authorize(requestURI string, p *auth.Principal) Decision {
	rawPath, _, _ := strings.Cut(requestURI, "?")
	reqPath, err := url.PathUnescape(rawPath)
	if err != nil {
		reqPath = rawPath
	}
	return g.decide(reqPath, requestURI, p)
}

// AuthorizeRequest decides for r using the decoded path the router matches
// on. The escaped request URI is kept as the login return target.
func (g *Guard) AuthorizeRequest(r *http.Request, p *auth.Principal) Decision {
	return g.decide(r.URL.Path, r.URL.RequestURI(), p)
}

func (g *Guard) decide(reqPath, requestURI string, p *auth.Principal) Decision {
	reqPath = cleanPath(reqPath)

	switch {
	case matchAny(reqPath, g.rules.Public):
		return allow()

	case matchAny(reqPath, g.rules.Owner):
		if p == nil {
			return g.login(requestURI)
		}
		if p.Role != profile.RoleOwner {
			return Decision{Outcome: OutcomeWrongRole, RedirectTo: g.rules.WrongRolePath}
		}
		if !p.SubscriptionValid(g.now()) {
			return Decision{Outcome: OutcomeInactive, RedirectTo: g.rules.InactivePath}
		}
		return allow()

	case matchAny(reqPath, g.rules.Admin):
		if p == nil {
			return g.login(requestURI)
		}
		if !p.Role.IsAdmin() {
			return Decision{Outcome: OutcomeForbidden, RedirectTo: g.rules.ForbiddenPath}
		}
		return allow()

	case matchAny(reqPath, g.rules.Protected):
		if p == nil {
			return g.login(requestURI)
		}
		return allow()
	}

	return allow()
}

func (g *Guard) login(returnTo string) Decision {
	return Decision{
		Outcome:    OutcomeLogin,
		RedirectTo: g.rules.LoginPath + "?redirectTo=" + url.QueryEscape(returnTo),
	}
}

func allow() Decision {
	return Decision{Outcome: OutcomeAllow}
}

// matchAny reports whether p equals one of prefixes or lies beneath one.
func matchAny(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if p == prefix || strings.HasPrefix(p, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

// cleanPath resolves dot segments so "/auth/../admin" is judged as "/admin".
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
