package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslations(t *testing.T) {
	require.NoError(t, Initialize("es"))

	assert.Equal(t, "Pedido no encontrado", T("es", ResourceOrder+".not_found"))
	assert.Equal(t, "Order not found", T("en", ResourceOrder+".not_found"))
	assert.Equal(t, "Invalid input", T("en", KeyValidationInvalid, "input"))

	// unknown language falls back to the default catalog
	assert.Equal(t, "Pedido no encontrado", T("fr", ResourceOrder+".not_found"))
	assert.Equal(t, "missing.key", T("en", "missing.key"))

	assert.True(t, IsSupported("en"))
	assert.False(t, IsSupported("fr"))
	assert.Equal(t, "es", DefaultLanguage())
}
