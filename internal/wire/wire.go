// Package wire assembles the process-wide engine registry. It creates the
// singleton with lazy initialization.
package wire

import (
	"log"
	"sync"

	"github.com/example/bdl/internal/engine"
	"github.com/example/bdl/internal/engine/webdir"
)

var (
	registry *engine.Registry
	once     sync.Once
)

// Registry returns the singleton engine registry with every shipped driver
// registered.
func Registry() *engine.Registry {
	once.Do(initRegistry)
	return registry
}

// initRegistry builds the registry once. Registration of the shipped
// drivers cannot fail at runtime unless a driver is broken at build time,
// hence the fatal.
func initRegistry() {
	registry = engine.NewRegistry()
	if err := registry.RegisterAll(webdir.New()); err != nil {
		log.Fatalf("failed to initialize engine registry: %v", err)
	}
}
