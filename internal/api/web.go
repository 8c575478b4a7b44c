package api

import _ "embed"

// indexHTML is the single-page viewer served at the root path
//
//go:embed web/index.html
var indexHTML []byte
