// Package module resolves `include` path strings to canonical module paths
// (spec.md §4.4.5, §6 "Module path format").
//
// Resolution never touches the filesystem: path.Join/path.Clean already
// collapse "./" and "x/../" segments the way spec.md's resolver requires,
// so this package stays a pure string transform; the compiler pairs it
// with its injected read-file callback to actually load a module's source.
package module

import (
	"path"
	"strings"
)

// Ext is the extension appended to every resolved include path.
const Ext = ".ape"

// Resolve canonicalises path relative to baseDir (the including file's
// directory): absolute paths are used as-is, relative paths are joined to
// baseDir, "./" and "x/../" segments are collapsed, and Ext is appended if
// not already present.
func Resolve(baseDir, p string) string {
	if !strings.HasSuffix(p, Ext) {
		p += Ext
	}

	var joined string
	if path.IsAbs(p) {
		joined = path.Clean(p)
	} else {
		joined = path.Clean(path.Join(baseDir, p))
	}
	return joined
}

// Dir returns the directory prefix of a canonical module path, for
// resolving that module's own relative includes.
func Dir(canonicalPath string) string {
	return path.Dir(canonicalPath)
}
