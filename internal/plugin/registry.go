package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hyperengineering/entsync/internal/validation"
)

// registry holds all registered domain plugins and their collections.
var (
	registryMu  sync.RWMutex
	plugins     = make(map[string]DomainPlugin)
	definitions = make(map[string]*EntityDefinition)
)

// Register adds a domain plugin and its collections to the registry.
// Plugins should be registered during init() or early in main().
// Panics if the plugin or one of its collections is already registered,
// or if a collection is malformed.
func Register(p DomainPlugin) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := p.Name()
	if _, exists := plugins[name]; exists {
		panic("plugin already registered: " + name)
	}

	defs := p.Entities()
	staged := make(map[string]*EntityDefinition, len(defs))
	for i := range defs {
		def := defs[i]
		if _, exists := definitions[def.Name]; exists {
			panic("entity already registered: " + def.Name)
		}
		if _, exists := staged[def.Name]; exists {
			panic("entity already registered: " + def.Name)
		}
		if err := checkDefinition(&def); err != nil {
			panic(fmt.Sprintf("plugin %s: %v", name, err))
		}
		staged[def.Name] = &def
	}

	plugins[name] = p
	for n, def := range staged {
		definitions[n] = def
	}
}

func checkDefinition(def *EntityDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("entity without name")
	}
	if verr := validation.ValidateIdentifier("table", def.TableName()); verr != nil {
		return fmt.Errorf("entity %s: table %q %s", def.Name, def.TableName(), verr.Message)
	}
	for _, col := range def.Columns {
		if verr := validation.ValidateIdentifier("column", col); verr != nil {
			return fmt.Errorf("entity %s: column %q %s", def.Name, col, verr.Message)
		}
	}
	if len(def.PrimaryKey) == 0 {
		return fmt.Errorf("entity %s: no primary key", def.Name)
	}
	for _, col := range def.PrimaryKey {
		if !def.HasColumn(col) {
			return fmt.Errorf("entity %s: key column %s not in columns", def.Name, col)
		}
	}
	if def.AutoID && len(def.PrimaryKey) != 1 {
		return fmt.Errorf("entity %s: auto id requires a single key column", def.Name)
	}
	if err := def.resolve(); err != nil {
		return fmt.Errorf("entity %s: schema: %w", def.Name, err)
	}
	return nil
}

// Get returns the plugin registered under name.
func Get(name string) (DomainPlugin, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	p, ok := plugins[name]
	return p, ok
}

// Plugins returns all registered plugins sorted by name.
// Migrations are applied in this order.
func Plugins() []DomainPlugin {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]DomainPlugin, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definition returns the collection registered under name.
func Definition(name string) (*EntityDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := definitions[name]
	return def, ok
}

// Lookup is Definition returning ErrUnknownEntity for unregistered names.
func Lookup(name string) (*EntityDefinition, error) {
	def, ok := Definition(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return def, nil
}

// Definitions returns every registered collection sorted by name.
func Definitions() []*EntityDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]*EntityDefinition, 0, len(definitions))
	for _, def := range definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset clears the registry. Only for testing.
func Reset() {
	registryMu.Lock()
	defer registryMu.Unlock()
	plugins = make(map[string]DomainPlugin)
	definitions = make(map[string]*EntityDefinition)
}
