package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderBodyRewritesLinksAndInjectsPixel(t *testing.T) {
	d := &EmailDispatcher{TrackingURL: "https://app.example.com"}

	body := d.renderBody(DispatchRequest{
		Content:     `<html><body><a href="https://example.com/pricing">Pricing</a></body></html>`,
		TrackingID:  "trk-1",
		PixelID:     "px-1",
		TrackOpens:  true,
		TrackClicks: true,
	})

	assert.Contains(t, body, "/track/click/trk-1?url=https%3A%2F%2Fexample.com%2Fpricing")
	assert.NotContains(t, body, `href="https://example.com/pricing"`)
	assert.Contains(t, body, "/track/open/trk-1/px-1")
}

func TestRenderBodyRespectsTrackingFlags(t *testing.T) {
	d := &EmailDispatcher{TrackingURL: "https://app.example.com"}
	content := `<body><a href="https://example.com">site</a></body>`

	plain := d.renderBody(DispatchRequest{Content: content, TrackingID: "trk-1", PixelID: "px-1"})
	assert.Equal(t, content, plain)

	opensOnly := d.renderBody(DispatchRequest{
		Content: content, TrackingID: "trk-1", PixelID: "px-1", TrackOpens: true,
	})
	assert.Contains(t, opensOnly, `href="https://example.com"`)
	assert.Contains(t, opensOnly, "/track/open/trk-1/px-1")

	clicksOnly := d.renderBody(DispatchRequest{
		Content: content, TrackingID: "trk-1", PixelID: "px-1", TrackClicks: true,
	})
	assert.Contains(t, clicksOnly, "/track/click/trk-1?url=")
	assert.NotContains(t, clicksOnly, "/track/open/")
}
