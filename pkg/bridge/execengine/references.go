package execengine

import (
	"sort"
	"strings"
)

// referenceSet resolves which loaded packages a fragment may reference. The
// catalog is whatever the runtime exposes, not a fixed list; exclusions
// remove test-only packages and facades whose package name collides with a
// package already referenced, which would otherwise fail the compile with
// duplicate symbols.
type referenceSet struct {
	// paths maps package name to the import path that won it.
	paths map[string]string
	order []string
}

// resolveReferences walks the symbol catalog keys (formatted "path/pkgname")
// and keeps one import path per package name.
func resolveReferences(catalogKeys []string, excluded []string) *referenceSet {
	sort.Strings(catalogKeys)

	rs := &referenceSet{paths: make(map[string]string)}
	for _, key := range catalogKeys {
		idx := strings.LastIndex(key, "/")
		if idx < 0 {
			continue
		}
		path, name := key[:idx], key[idx+1:]

		if isExcludedPath(path, excluded) {
			continue
		}
		if strings.Contains(path, "internal/") || strings.HasPrefix(path, "internal") {
			continue
		}
		if _, taken := rs.paths[name]; taken {
			// Facade: same package name as an earlier reference.
			continue
		}

		rs.paths[name] = path
		rs.order = append(rs.order, path)
	}
	return rs
}

func isExcludedPath(path string, excluded []string) bool {
	for _, ex := range excluded {
		if path == ex || strings.HasPrefix(path, ex+"/") {
			return true
		}
	}
	return false
}

// ImportBlock renders the reference set as a single import declaration.
func (rs *referenceSet) ImportBlock() string {
	if len(rs.order) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("import (\n")
	for _, path := range rs.order {
		b.WriteString("\t\"" + path + "\"\n")
	}
	b.WriteString(")")
	return b.String()
}

// Len reports how many references resolved.
func (rs *referenceSet) Len() int {
	return len(rs.order)
}
