// Package qpath normalizes and compares virtual file names.
//
// A virtual name is relative to a layer root, may use either separator and
// is compared without regard to ASCII case.
package qpath

import (
	"strings"
)

// Clean unifies separators to '/', collapses repeated separators and strips
// leading separators. Case is preserved.
func Clean(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastSep := true // strips leading separators
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '\\' || c == '/' {
			if lastSep {
				continue
			}
			lastSep = true
			b.WriteByte('/')
			continue
		}
		lastSep = false
		b.WriteByte(c)
	}
	return b.String()
}

// Normalize is Clean followed by ASCII lower-casing. Archive indexes are
// keyed by normalized names.
func Normalize(name string) string {
	return toLowerASCII(Clean(name))
}

func toLowerASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if b[j] >= 'A' && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}

// IsTraversal reports whether a lookup name could back out of its layer.
// Layers always prepend a root, so drive prefixes need no special case.
func IsTraversal(name string) bool {
	return strings.Contains(name, "..") || strings.Contains(name, "::")
}

// IsDirTraversal reports whether a download name contains a parent
// directory segment.
func IsDirTraversal(name string) bool {
	return strings.Contains(name, "../") || strings.Contains(name, `..\`)
}

func foldByte(c byte) byte {
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	if c == '\\' || c == ':' {
		c = '/'
	}
	return c
}

// Compare orders names ignoring case and separator differences. It returns
// -1, 0 or 1.
func Compare(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ca, cb := foldByte(a[i]), foldByte(b[i])
		if ca < cb {
			return -1
		}
		if ca > cb {
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// Equal reports whether two names refer to the same virtual file.
func Equal(a, b string) bool {
	return len(a) == len(b) && Compare(a, b) == 0
}

// HasExt reports whether name ends with ext, ignoring case.
func HasExt(name, ext string) bool {
	if len(ext) > len(name) {
		return false
	}
	return strings.EqualFold(name[len(name)-len(ext):], ext)
}

// TrimExt removes ext from name when present, ignoring case.
func TrimExt(name, ext string) string {
	if HasExt(name, ext) {
		return name[:len(name)-len(ext)]
	}
	return name
}

// Ext returns the extension of the last path element, including the dot.
func Ext(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		switch name[i] {
		case '.':
			return name[i:]
		case '/', '\\':
			return ""
		}
	}
	return ""
}

// Base returns the last path element of name.
func Base(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Split returns the directory portion of name and the number of separators
// it contains.
func Split(name string) (dir string, depth int) {
	last := 0
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == '\\' {
			last = i
			depth++
		}
	}
	return name[:last], depth
}

// HasPrefixFold reports whether name starts with prefix, ignoring case and
// separator differences.
func HasPrefixFold(name, prefix string) bool {
	if len(prefix) > len(name) {
		return false
	}
	return Compare(name[:len(prefix)], prefix) == 0
}
