package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInjectTrackingPixelBeforeBodyClose(t *testing.T) {
	html := "<html><body><p>Hello</p></body></html>"
	out := InjectTrackingPixel(html, "https://app.example.com", "trk-1", "px-1")

	pixelIdx := strings.Index(out, "/track/open/trk-1/px-1")
	bodyIdx := strings.Index(out, "</body>")
	assert.NotEqual(t, -1, pixelIdx)
	assert.Less(t, pixelIdx, bodyIdx)
}

func TestInjectTrackingPixelAppendsWithoutBody(t *testing.T) {
	out := InjectTrackingPixel("<p>Hello</p>", "https://app.example.com", "trk-1", "px-1")

	assert.True(t, strings.HasPrefix(out, "<p>Hello</p>"))
	assert.Contains(t, out, "/track/open/trk-1/px-1")
}

func TestInjectTrackingPixelCaseInsensitiveBodyTag(t *testing.T) {
	html := "<HTML><BODY>x</BODY></HTML>"
	out := InjectTrackingPixel(html, "https://app.example.com", "trk-1", "px-1")

	pixelIdx := strings.Index(out, "<img")
	bodyIdx := strings.Index(out, "</BODY>")
	assert.NotEqual(t, -1, pixelIdx)
	assert.Less(t, pixelIdx, bodyIdx)
}

func TestInjectClickTracking(t *testing.T) {
	html := `<p><a href="https://example.com/page">click</a></p>`
	out := InjectClickTracking(html, "https://app.example.com", "trk-1")

	assert.Contains(t, out, "/track/click/trk-1?url=https%3A%2F%2Fexample.com%2Fpage")
	assert.NotContains(t, out, `href="https://example.com/page"`)
}

func TestInjectClickTrackingMultipleLinks(t *testing.T) {
	html := `<a href="https://a.test">a</a><a href="https://b.test">b</a>`
	out := InjectClickTracking(html, "https://app.example.com", "trk-1")

	assert.Equal(t, 2, strings.Count(out, "/track/click/trk-1?url="))
	assert.Contains(t, out, "url=https%3A%2F%2Fa.test")
	assert.Contains(t, out, "url=https%3A%2F%2Fb.test")
}
