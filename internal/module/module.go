// Package module defines the lifecycle contract shared by the server's
// components and the registry that starts, stops and routes them.
package module

import (
	"context"
	"net/http"
)

// Route is an HTTP route exposed by a module. Path is relative to the
// server base path and must start with "/".
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc

	// Admin routes require the operator bearer token and are not mounted
	// when none is configured.
	Admin bool
}

// Module is a named component with an optional background lifecycle.
type Module interface {
	// Name returns the module's unique identifier (e.g. "device", "ingest").
	Name() string

	// Start begins background work. It must not block.
	Start(ctx context.Context) error

	// Stop releases resources acquired by Start.
	Stop(ctx context.Context) error
}

// HTTPProvider is implemented by modules that expose routes.
type HTTPProvider interface {
	Routes() []Route
}
