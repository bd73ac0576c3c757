package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("**wichtig** und *kursiv* mit `code`")
	require.NoError(t, err)
	assert.Contains(t, html, "<strong>wichtig</strong>")
	assert.Contains(t, html, "<em>kursiv</em>")
	assert.Contains(t, html, "<code>code</code>")
	assert.NotContains(t, html, "<p>")
}

func TestRenderHTML_Lists(t *testing.T) {
	html, err := RenderHTML("- eins\n- zwei")
	require.NoError(t, err)
	assert.Contains(t, html, "• eins")
	assert.Contains(t, html, "• zwei")
	assert.NotContains(t, html, "<ul>")
	assert.NotContains(t, html, "<li>")
}
