package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/entsync/internal/plugin"
)

func TestPlugin_Registers(t *testing.T) {
	plugin.Reset()
	t.Cleanup(plugin.Reset)

	plugin.Register(New())

	for _, name := range []string{EntityCategory, EntityProduct, EntityProductCategory, EntityRule} {
		_, ok := plugin.Definition(name)
		assert.True(t, ok, "collection %s not registered", name)
	}
}

func TestPlugin_MigrationsOrdered(t *testing.T) {
	migrations := New().Migrations()
	require.NotEmpty(t, migrations)
	for i := 1; i < len(migrations); i++ {
		assert.Greater(t, migrations[i].Version, migrations[i-1].Version)
	}
}

func TestProductSchema_RejectsNegativePrice(t *testing.T) {
	plugin.Reset()
	t.Cleanup(plugin.Reset)
	plugin.Register(New())

	def, ok := plugin.Definition(EntityProduct)
	require.True(t, ok)

	assert.NoError(t, def.ValidatePayload(map[string]any{"id": "P1", "name": "A", "price": 9.5}))
	assert.Error(t, def.ValidatePayload(map[string]any{"id": "P1", "name": "A", "price": -1.0}))
	assert.Error(t, def.ValidatePayload(map[string]any{"id": "P1", "name": 42.0}))
}

func TestProductCategory_CompositeKey(t *testing.T) {
	plugin.Reset()
	t.Cleanup(plugin.Reset)
	plugin.Register(New())

	def, ok := plugin.Definition(EntityProductCategory)
	require.True(t, ok)

	key, missing := def.KeyFrom(map[string]any{"product_id": "P1", "category_id": "C1"})
	assert.Empty(t, missing)
	assert.True(t, key.IsComposite())
	assert.Equal(t, "product_id=P1|category_id=C1", key.String())

	_, missing = def.KeyFrom(map[string]any{"product_id": "P1"})
	assert.Equal(t, []string{"category_id"}, missing)
}
