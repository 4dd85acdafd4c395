package admission

import (
	"net/http"
	"net/url"
	"strings"
)

// SafeRedirect returns target if it stays on the request's own origin and
// fallback otherwise. Relative paths resolve against the request, and the
// result must be http or https with the request's host.
func SafeRedirect(r *http.Request, target, fallback string) string {
	if target == "" || strings.ContainsAny(target, "\\") {
		return fallback
	}
	for _, c := range target {
		if c < 0x20 || c == 0x7f {
			return fallback
		}
	}

	base := &url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path}
	if r.TLS != nil {
		base.Scheme = "https"
	}
	u, err := url.Parse(target)
	if err != nil {
		return fallback
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return fallback
	}
	if !strings.EqualFold(resolved.Host, r.Host) {
		return fallback
	}
	if u.IsAbs() || u.Host != "" {
		// Same-origin absolute URLs are reduced to a path.
		return resolved.RequestURI()
	}
	return target
}
