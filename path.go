package ext2

import "strings"

// Path is a sequence of non-empty path components plus an is-absolute
// flag. Splitting the raw string is a pure lexical operation external to
// the engine; ParsePath below is the thin adapter that performs that
// lexing using the standard library.
type Path struct {
	absolute   bool
	components []string
}

// ParsePath splits s on '/', discarding empty components produced by
// repeated separators, and records whether s began with '/'.
func ParsePath(s string) Path {
	absolute := strings.HasPrefix(s, "/")
	parts := strings.Split(s, "/")
	components := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		components = append(components, p)
	}
	return Path{absolute: absolute, components: components}
}

// EmptyPath returns a path with no components, relative unless absolute is true.
func EmptyPath(absolute bool) Path {
	return Path{absolute: absolute}
}

func (p Path) IsAbsolute() bool { return p.absolute }

func (p Path) Components() []string {
	out := make([]string, len(p.components))
	copy(out, p.components)
	return out
}

func (p Path) Len() int { return len(p.components) }

// Last returns the final component and true, or "" and false if empty.
func (p Path) Last() (string, bool) {
	if len(p.components) == 0 {
		return "", false
	}
	return p.components[len(p.components)-1], true
}

// WithComponent returns a copy of p with name appended.
func (p Path) WithComponent(name string) Path {
	next := make([]string, len(p.components), len(p.components)+1)
	copy(next, p.components)
	next = append(next, name)
	return Path{absolute: p.absolute, components: next}
}

func (p Path) String() string {
	joined := strings.Join(p.components, "/")
	if p.absolute {
		return "/" + joined
	}
	return joined
}
