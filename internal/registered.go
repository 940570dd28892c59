// Package internal holds the registries written by the register package and
// read by the docfold config, so that extension packages and docfold itself
// never need to import each other.
package internal

import (
	"html/template"
	"io/fs"
)

// RegisteredFuncMaps collects template FuncMaps contributed by other
// packages at init time, keyed by the name configs use to activate them.
var RegisteredFuncMaps = make(map[string]template.FuncMap)

// RegisteredFS collects filesystems contributed at init time, usable as a
// document asset source.
var RegisteredFS = make(map[string]fs.FS)
