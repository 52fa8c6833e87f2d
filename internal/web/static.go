package web

import (
	"embed"
)

// staticFiles holds the embedded control page, its CSS and JS.
//
//go:embed static/*
var staticFiles embed.FS
