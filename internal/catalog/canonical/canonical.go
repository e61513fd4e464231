// Package canonical normalizes repository references into the single
// identity string used to deduplicate candidates across sources.
package canonical

import (
	"net/url"
	"strings"
)

// Normalize converts a raw repository reference into its canonical identity.
// It strips a git+ prefix, converts SSH form to HTTPS, strips a .git suffix,
// lower-cases host/owner/repo, and drops trailing sub-paths. Two references
// are the same project exactly when their normalized strings are equal.
// Returns ok=false for references that do not resolve to host/owner/repo.
func Normalize(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	s = strings.TrimPrefix(s, "git+")

	// SSH form: git@host:owner/repo
	if strings.HasPrefix(s, "git@") {
		rest := strings.TrimPrefix(s, "git@")
		host, path, found := strings.Cut(rest, ":")
		if !found {
			return "", false
		}
		s = "https://" + host + "/" + path
	}

	if strings.HasPrefix(s, "git://") {
		s = "https://" + strings.TrimPrefix(s, "git://")
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return "", false
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	owner := strings.ToLower(parts[0])
	repo := strings.ToLower(strings.TrimSuffix(parts[1], ".git"))
	if repo == "" {
		return "", false
	}

	return "https://" + strings.ToLower(u.Hostname()) + "/" + owner + "/" + repo, true
}

// Split returns the owner and repo components of a canonical identity.
func Split(identity string) (owner, repo string, ok bool) {
	u, err := url.Parse(identity)
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
