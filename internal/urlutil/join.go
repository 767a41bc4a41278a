package urlutil

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// JoinPath joins URL paths, handling trailing and leading slashes correctly
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	allPaths := append([]string{u.Path}, paths...)
	u.Path = path.Join(allPaths...)

	// Preserve trailing slash if the last path component had one
	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}

	return u.String(), nil
}

// AbsoluteURL resolves a route against an http(s) base URL. The route must
// be a relative path accepted by IsSafeRedirect.
func AbsoluteURL(base, route string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("base URL %q must be an absolute http(s) URL", base)
	}
	if !IsSafeRedirect(route) {
		return "", fmt.Errorf("route %q must be a relative path", route)
	}
	if route == "/" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/"
		u.RawQuery = ""
		return u.String(), nil
	}
	return JoinPath((&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String(), route)
}
