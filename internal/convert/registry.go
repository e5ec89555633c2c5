// Package convert implements the text converter registry: one pure,
// deterministic string→string transform per recognized source-file kind
// (spec §4.5).
package convert

import "fmt"

// Func is a pure text-to-text conversion: identical input bytes always
// yield identical output bytes.
type Func func(string) string

// Kinds is the closed set of recognized converter names. Anything outside
// this set is a configuration error at load time, not a runtime warning.
var Kinds = []string{
	"metadata",
	"boot",
	"settings",
	"setup",
	"environment",
	"ranks",
	"known_boardreaders_list",
}

// Registry maps converter names to their implementation, built from the
// set of names enabled in configuration.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry builds a Registry containing only the named converters.
// An unrecognized name is rejected immediately — converters are a closed
// set, and the caller (config loading) is expected to fail startup on
// this error rather than skip silently.
func NewRegistry(enabledNames []string) (*Registry, error) {
	all := map[string]Func{
		"metadata":                Metadata,
		"boot":                    Boot,
		"settings":                Settings,
		"setup":                   Setup,
		"environment":             Environment,
		"ranks":                   Ranks,
		"known_boardreaders_list": KnownBoardreaders,
	}
	r := &Registry{funcs: make(map[string]Func, len(enabledNames))}
	for _, name := range enabledNames {
		fn, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("unknown converter %q (known kinds: %v)", name, Kinds)
		}
		r.funcs[name] = fn
	}
	return r, nil
}

// Get returns the converter for name and whether it is enabled.
func (r *Registry) Get(name string) (Func, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Enabled returns the set of enabled converter names.
func (r *Registry) Enabled() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}
