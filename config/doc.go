// Package config provides loading, mutation, and atomic persistence of PLM
// project configuration files.
//
// A project configuration names the project and declares the set of plugins
// the project uses. The per-plugin "config" payload is opaque to PLM; only
// the owning plugin interprets its shape.
//
// Files are JSON by default; paths ending in .yaml or .yml are read and
// written as YAML. Unknown top-level fields are tolerated for forward
// compatibility.
package config
