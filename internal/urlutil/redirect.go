package urlutil

import "net/url"

// IsSafeRedirect reports whether candidate is a same-origin relative path
// that can be used as a post-login redirect target. Anything carrying a
// scheme, a host, or a leading "//" (or its backslash variants, which
// browsers treat the same way) is rejected.
func IsSafeRedirect(candidate string) bool {
	if candidate == "" || candidate[0] != '/' {
		return false
	}
	if len(candidate) > 1 && (candidate[1] == '/' || candidate[1] == '\\') {
		return false
	}

	for i := 0; i < len(candidate); i++ {
		c := candidate[i]
		if c < 0x20 || c == 0x7f || c == '\\' {
			return false
		}
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && u.User == nil
}
