// Package markers indexes BREAKPOINT_MARKER comments in fixture sources.
//
// A marker comment looks like
//
//	// BREAKPOINT_MARKER: add_body
//
// and names the first following line that is neither blank nor a comment.
package markers

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const prefix = "// BREAKPOINT_MARKER:"

// Marker is a named breakpoint target.
type Marker struct {
	Name string
	File string
	Line int
}

func (m Marker) String() string {
	return fmt.Sprintf("%s %s:%d", m.Name, m.File, m.Line)
}

// Set holds the markers of one or more files keyed by name.
type Set map[string]Marker

// ParseFile reads the markers of the file at path. Marker files are
// absolute so they can be handed to a debugger as is.
func ParseFile(path string) (Set, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(abs, f)
}

// Parse reads markers from r, attributing them to file.
func Parse(file string, r io.Reader) (Set, error) {
	set := make(Set)
	var pending []string
	var pendingLines []int

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, prefix) {
			name := strings.TrimSpace(strings.TrimPrefix(line, prefix))
			if name == "" {
				return nil, fmt.Errorf("%s:%d: empty marker name", file, lineNo)
			}
			pending = append(pending, name)
			pendingLines = append(pendingLines, lineNo)
			continue
		}
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		for i, name := range pending {
			if prev, ok := set[name]; ok {
				return nil, fmt.Errorf("%s:%d: duplicate marker %q, first defined at line %d", file, pendingLines[i], name, prev.Line)
			}
			set[name] = Marker{Name: name, File: file, Line: lineNo}
		}
		pending = pending[:0]
		pendingLines = pendingLines[:0]
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return nil, fmt.Errorf("%s:%d: marker %q has no target line", file, pendingLines[0], pending[0])
	}
	return set, nil
}

// Lookup returns the marker with the given name.
func (s Set) Lookup(name string) (Marker, error) {
	m, ok := s[name]
	if !ok {
		return Marker{}, fmt.Errorf("unknown marker: %s", name)
	}
	return m, nil
}

// ByLine returns the markers that target file:line sorted by name. Stacked
// marker comments share their target line.
func (s Set) ByLine(file string, line int) []Marker {
	var list []Marker
	for _, m := range s {
		if m.Line == line && sameFile(m.File, file) {
			list = append(list, m)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Names returns the marker names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sorted returns the markers ordered by file and line.
func (s Set) Sorted() []Marker {
	list := make([]Marker, 0, len(s))
	for _, m := range s {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].File != list[j].File {
			return list[i].File < list[j].File
		}
		if list[i].Line != list[j].Line {
			return list[i].Line < list[j].Line
		}
		return list[i].Name < list[j].Name
	})
	return list
}

// sameFile compares paths reported by debuggers, which may be cleaned
// differently or relative to the build directory.
func sameFile(a, b string) bool {
	a = filepath.ToSlash(filepath.Clean(a))
	b = filepath.ToSlash(filepath.Clean(b))
	if a == b {
		return true
	}
	return strings.HasSuffix(a, "/"+b) || strings.HasSuffix(b, "/"+a)
}
