// Package register lets extension packages contribute named template
// FuncMaps and filesystems to docfold. Call the Register functions from an
// init function and activate the names with the WithRegistered config
// options.
package register

import (
	"fmt"
	"html/template"
	"io/fs"

	"github.com/docfold/docfold/internal"
)

// RegisterFuncMap publishes funcs under name. Duplicate names panic so
// conflicts surface at program start.
func RegisterFuncMap(name string, funcs template.FuncMap) {
	if existing, ok := internal.RegisteredFuncMaps[name]; ok {
		panic(fmt.Sprintf("funcmap named '%s' already registered as '%+v'", name, existing))
	}
	internal.RegisteredFuncMaps[name] = funcs
}

// RegisterFS publishes fsys under name, usable as a docs source.
func RegisterFS(name string, fsys fs.FS) {
	if existing, ok := internal.RegisteredFS[name]; ok {
		panic(fmt.Sprintf("fs named '%s' already registered as '%+v'", name, existing))
	}
	internal.RegisteredFS[name] = fsys
}
