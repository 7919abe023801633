// Package urlnorm canonicalizes discovered URLs and decides whether they are
// admitted into a job's crawl scope (spec §4.1). Normalization determines
// dedup semantics; url_hash is only a fingerprint of the canonical form.
package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
)

// ErrIntraPageAnchor is returned when the link differs from its parent only
// by fragment — a pure same-page anchor, which is discarded entirely rather
// than normalized.
var ErrIntraPageAnchor = errors.New("urlnorm: intra-page anchor")

var duplicateSlashes = regexp.MustCompile(`/{2,}`)

// skipAssetPrefixes are path prefixes excluded from admission regardless of
// scope (spec §4.1).
var skipAssetPrefixes = []string{
	"/assets/", "/images/", "/img/", "/css/", "/js/", "/fonts/", "/static/", "/media/",
}

// blockedExtensions are file extensions treated as non-document assets.
var blockedExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true, ".ico": true,
	".webp": true, ".bmp": true, ".css": true, ".js": true, ".mjs": true, ".map": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".mp4": true, ".webm": true, ".mp3": true, ".wav": true, ".ogg": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".rar": true, ".7z": true,
	".exe": true, ".dmg": true, ".iso": true,
}

// trackingExactKeys are query keys dropped regardless of value.
var trackingExactKeys = map[string]bool{
	"fbclid": true, "gclid": true, "ref": true, "redirect": true,
}

// Normalize canonicalizes raw relative to parent, in the order spec §4.1
// requires: resolve relative, lowercase host, strip default port, collapse
// slashes, strip or discard fragment, strip trailing slash, drop tracking
// params, sort remaining query keys.
//
// Normalize is idempotent: Normalize(Normalize(u)) == Normalize(u).
func Normalize(raw string, parent *url.URL) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	resolved := ref
	if parent != nil {
		resolved = parent.ResolveReference(ref)
	}

	if parent != nil && resolved.Fragment != "" {
		withoutFragment := *resolved
		withoutFragment.Fragment = ""
		if withoutFragment.String() == stripFragment(parent).String() {
			return "", ErrIntraPageAnchor
		}
	}
	resolved.Fragment = ""

	resolved.Host = strings.ToLower(resolved.Host)
	resolved.Host = stripDefaultPort(resolved.Scheme, resolved.Host)

	resolved.Path = duplicateSlashes.ReplaceAllString(resolved.Path, "/")
	if resolved.Path == "" {
		resolved.Path = "/"
	}
	if len(resolved.Path) > 1 {
		resolved.Path = strings.TrimSuffix(resolved.Path, "/")
		if resolved.Path == "" {
			resolved.Path = "/"
		}
	}

	resolved.RawQuery = cleanQuery(resolved.RawQuery)

	return resolved.String(), nil
}

func stripFragment(u *url.URL) *url.URL {
	c := *u
	c.Fragment = ""
	return &c
}

func stripDefaultPort(scheme, host string) string {
	switch scheme {
	case "http":
		return strings.TrimSuffix(host, ":80")
	case "https":
		return strings.TrimSuffix(host, ":443")
	default:
		return host
	}
}

func cleanQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return ""
	}
	for key := range values {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") || trackingExactKeys[lower] {
			delete(values, key)
		}
	}
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for j, v := range vs {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Hash returns the url_hash fingerprint of a canonical URL string.
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Scope describes the admission boundary for links discovered within a job.
type Scope struct {
	SeedHost            string
	SeedPathPrefix      string
	FollowExternalLinks bool
}

// NewScope derives a Scope from a job's seed URL. The path-prefix scope is
// the seed's directory (e.g. "https://docs.example.com/guide/x" scopes to
// "/guide/").
func NewScope(seedURL string, followExternalLinks bool) (Scope, error) {
	u, err := url.Parse(seedURL)
	if err != nil {
		return Scope{}, err
	}
	prefix := path.Dir(u.Path)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return Scope{
		SeedHost:            strings.ToLower(u.Host),
		SeedPathPrefix:      prefix,
		FollowExternalLinks: followExternalLinks,
	}, nil
}

// Admit reports whether a normalized URL is admitted into scope, and if not,
// a short reason string for event/logging purposes.
func Admit(canonical string, scope Scope) (bool, string) {
	u, err := url.Parse(canonical)
	if err != nil {
		return false, "unparseable"
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false, "scheme"
	}

	if !scope.FollowExternalLinks && strings.ToLower(u.Host) != scope.SeedHost {
		return false, "out_of_scope_host"
	}
	if !scope.FollowExternalLinks && !strings.HasPrefix(u.Path, scope.SeedPathPrefix) {
		return false, "out_of_scope_path"
	}

	for _, prefix := range skipAssetPrefixes {
		if strings.HasPrefix(u.Path, prefix) {
			return false, "skip_asset_prefix"
		}
	}

	if ext := strings.ToLower(path.Ext(u.Path)); blockedExtensions[ext] {
		return false, "blocked_extension"
	}

	if len(u.Path) > 300 {
		return false, "path_too_long"
	}

	if u.Path == "/" || u.Path == "" {
		return false, "bare_origin"
	}

	return true, ""
}
