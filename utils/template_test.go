package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sendloop/models"
)

func TestRenderSubstitutesBuiltinsAndExtras(t *testing.T) {
	r := NewTemplateRenderer()
	contact := &models.Contact{
		PhoneNumber: "+15550001234",
		Name:        "Ada Lovelace",
		Extra:       map[string]string{"city": "London"},
	}
	campaign := &models.Campaign{Name: "spring promo"}

	out, err := r.Render("Hi {{first_name}} from {{city}}, this is {{campaign}} for {{phone}}", contact, campaign)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada from London, this is spring promo for +15550001234", out)
}

func TestRenderToleratesInnerWhitespace(t *testing.T) {
	r := NewTemplateRenderer()
	contact := &models.Contact{Name: "Ada"}

	out, err := r.Render("Hi {{ name }}", contact, &models.Campaign{})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada", out)
}

func TestRenderFailsOnUnknownVariable(t *testing.T) {
	r := NewTemplateRenderer()
	contact := &models.Contact{Name: "Ada"}

	_, err := r.Render("Hi {{name}}, your code is {{promo_code}}", contact, &models.Campaign{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "promo_code")
}

func TestRenderFirstNameFallsBackToFullName(t *testing.T) {
	r := NewTemplateRenderer()

	out, err := r.Render("{{first_name}}", &models.Contact{Name: "Cher"}, &models.Campaign{})
	require.NoError(t, err)
	assert.Equal(t, "Cher", out)
}

func TestRenderWithoutPlaceholdersIsPassthrough(t *testing.T) {
	r := NewTemplateRenderer()

	out, err := r.Render("plain message", &models.Contact{}, &models.Campaign{})
	require.NoError(t, err)
	assert.Equal(t, "plain message", out)
}

func TestExtractVariables(t *testing.T) {
	names := ExtractVariables("Hi {{name}}, {{city}} and {{name}} again")
	assert.Equal(t, []string{"name", "city"}, names)

	assert.Empty(t, ExtractVariables("no placeholders here"))
}

func TestIsValidPhone(t *testing.T) {
	assert.True(t, IsValidPhone("+15550001234"))
	assert.True(t, IsValidPhone("+442071838750"))
	assert.False(t, IsValidPhone("15550001234"))
	assert.False(t, IsValidPhone("+0123456"))
	assert.False(t, IsValidPhone("+1555ABC1234"))
	assert.False(t, IsValidPhone(""))
}
