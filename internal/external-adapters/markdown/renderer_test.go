package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const releaseBody = `## Installation

See the [installation guide](https://example.com/install) to set up this toolchain.

**Full Changelog**: https://github.com/acme/rust/compare/1.1.0...1.2.0`

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML(releaseBody)
	require.NoError(t, err)

	assert.Contains(t, html, "<h2>Installation</h2>")
	assert.Contains(t, html, `<a href="https://example.com/install">installation guide</a>`)
	assert.Contains(t, html, "<strong>Full Changelog</strong>")
	assert.Contains(t, html, `<a href="https://github.com/acme/rust/compare/1.1.0...1.2.0">`)
}

func TestRenderHTML_Empty(t *testing.T) {
	html, err := RenderHTML("")
	require.NoError(t, err)
	assert.Empty(t, html)
}

func TestLinks(t *testing.T) {
	assert.Equal(t, []string{
		"https://example.com/install",
		"https://github.com/acme/rust/compare/1.1.0...1.2.0",
	}, Links(releaseBody))

	assert.Empty(t, Links("no links here"))
}
