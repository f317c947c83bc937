package entry

import (
	"path"
	"strings"
)

// Resolve joins a reference found in base's frontmatter against base's
// directory, yielding a cleaned workspace-relative path. A reference that
// climbs above the workspace root comes back with a leading "..", which
// callers treat as a broken or non-portable reference.
func Resolve(base, ref string) string {
	return path.Join(path.Dir(base), ref)
}

// Rel returns the forward-slash relative path that reaches target from
// inside dir. Both arguments are workspace-relative.
func Rel(dir, target string) string {
	d := segments(dir)
	t := segments(target)
	i := 0
	for i < len(d) && i < len(t) && d[i] == t[i] {
		i++
	}
	parts := make([]string, 0, len(d)-i+len(t)-i)
	for range d[i:] {
		parts = append(parts, "..")
	}
	parts = append(parts, t[i:]...)
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}

func segments(p string) []string {
	p = path.Clean(strings.TrimPrefix(p, "/"))
	if p == "." || p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// CheckPortable reports whether ref is portable as written: relative,
// forward-slash separated, and already in cleaned form. Climbing to a
// parent directory is fine as long as cleaning would not rewrite the
// reference; "../index.md" is portable, "./a.md" and "a//b.md" are not.
// For a non-portable ref the suggested replacement is returned, empty
// when no mechanical rewrite exists.
func CheckPortable(ref string) (suggested string, ok bool) {
	if ref == "" {
		return "", false
	}
	fixed := strings.ReplaceAll(ref, "\\", "/")
	if strings.HasPrefix(fixed, "/") {
		fixed = strings.TrimLeft(fixed, "/")
	} else if len(fixed) >= 2 && fixed[1] == ':' && isASCIILetter(fixed[0]) {
		fixed = strings.TrimLeft(fixed[2:], "/")
	}
	fixed = path.Clean(fixed)
	if fixed == "." || fixed == "" || fixed == "/" {
		return "", false
	}
	if fixed != ref {
		return fixed, false
	}
	return "", true
}

func isASCIILetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}
