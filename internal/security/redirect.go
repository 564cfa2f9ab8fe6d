package security

import (
	"net/url"
	"strings"
)

// SafeRedirectPath returns target when it is a same-origin absolute path,
// otherwise fallback. Used for the post-login "redirectTo" parameter so it
// cannot be turned into an open redirect.
func SafeRedirectPath(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") {
		return fallback
	}
	// "//host" and "/\host" are treated as network paths by browsers.
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	if strings.ContainsAny(target, "\r\n\x00") {
		return fallback
	}
	return target
}
