package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ModuleFilter selects modules by name.
//
// Names are compared after NFC normalization and case folding, so a filter
// typed on a terminal matches the name stored from the remote configuration.
type ModuleFilter struct {
	only    string
	exclude map[string]struct{}
}

// NewModuleFilter builds a filter from an optional module (or connector) name
// and a comma separated exclusion list.
func NewModuleFilter(only, exclude string) ModuleFilter {
	f := ModuleFilter{only: foldName(only)}
	for _, name := range strings.Split(exclude, ",") {
		name = foldName(name)
		if name == "" {
			continue
		}
		if f.exclude == nil {
			f.exclude = make(map[string]struct{})
		}
		f.exclude[name] = struct{}{}
	}
	return f
}

// Match reports whether m is selected.
// The inclusion filter matches either the module name or the connector name;
// the exclusion list matches module names only.
func (f ModuleFilter) Match(m Module) bool {
	name := foldName(m.ModuleName)
	if _, excluded := f.exclude[name]; excluded {
		return false
	}
	if f.only == "" {
		return true
	}
	return f.only == name || f.only == foldName(m.ConnectorName)
}

// Apply returns the subset of modules selected by f, preserving order.
func (f ModuleFilter) Apply(modules []Module) []Module {
	selected := make([]Module, 0, len(modules))
	for _, m := range modules {
		if f.Match(m) {
			selected = append(selected, m)
		}
	}
	return selected
}

// IsZero reports whether the filter selects every module.
func (f ModuleFilter) IsZero() bool {
	return f.only == "" && len(f.exclude) == 0
}

func foldName(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}
