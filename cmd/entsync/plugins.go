package main

import (
	"github.com/hyperengineering/entsync/internal/plugin"
	"github.com/hyperengineering/entsync/internal/plugin/catalog"
)

// initPlugins registers all built-in domain plugins.
// Called before any store is opened so their migrations run.
func initPlugins() {
	plugin.Register(catalog.New())
}
