// Package startscript renders the per-battle settings file that
// accompanies the engine's hierarchical-key text start script (spec
// glossary "Start script", §4.2 step 2). The start script itself is
// supplied by the caller as an opaque string and written through
// unmodified (spec §1: the legacy config serializer is out of scope);
// this package only renders the settings overrides the controller adds
// on top of it.
package startscript

import (
	"fmt"
	"sort"
	"strings"
)

// Section is one `[Name]` block of key=value lines, in the teacher's
// buffer-writer style generalized from binary fields to text lines.
type Section struct {
	Name string
	Keys []string
	Vals map[string]string
}

// NewSection starts an empty, ordered section.
func NewSection(name string) *Section {
	return &Section{Name: name, Vals: map[string]string{}}
}

// Set appends key=value, preserving insertion order for keys set for
// the first time; re-setting an existing key keeps its original
// position.
func (s *Section) Set(key string, value any) *Section {
	if _, exists := s.Vals[key]; !exists {
		s.Keys = append(s.Keys, key)
	}
	s.Vals[key] = fmt.Sprint(value)
	return s
}

func (s *Section) write(b *strings.Builder) {
	fmt.Fprintf(b, "[%s]\n{\n", s.Name)
	for _, k := range s.Keys {
		fmt.Fprintf(b, "\t%s=%s;\n", k, s.Vals[k])
	}
	b.WriteString("}\n")
}

// RenderSettings renders a flat map of settings as a single [GAME]
// section sorted by key, used for the per-battle settings file (spec
// §4.2 step 2). Sorted order keeps the output deterministic for
// testing even though the spec places no ordering requirement on
// settings.
func RenderSettings(settings map[string]string) string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sec := NewSection("GAME")
	for _, k := range keys {
		sec.Set(k, settings[k])
	}
	var b strings.Builder
	sec.write(&b)
	return b.String()
}
