package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// GenerateTrackingPixelURL builds the open-tracking pixel URL. The pixel id
// acts as a shared secret so open events cannot be forged from a bare
// tracking id.
func GenerateTrackingPixelURL(baseURL, trackingID, pixelID string) string {
	return fmt.Sprintf("%s/track/open/%s/%s", baseURL, trackingID, pixelID)
}

// GenerateClickTrackURL builds a redirect URL for one link.
func GenerateClickTrackURL(baseURL, trackingID, originalURL string) string {
	return fmt.Sprintf("%s/track/click/%s?url=%s", baseURL, trackingID, url.QueryEscape(originalURL))
}

// InjectTrackingPixel inserts the open-tracking pixel immediately before the
// closing </body> tag, or appends it when the content has no body tag.
func InjectTrackingPixel(htmlContent, baseURL, trackingID, pixelID string) string {
	pixelURL := GenerateTrackingPixelURL(baseURL, trackingID, pixelID)
	pixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, pixelURL)

	lower := strings.ToLower(htmlContent)
	if idx := strings.LastIndex(lower, "</body>"); idx != -1 {
		return htmlContent[:idx] + pixel + htmlContent[idx:]
	}
	return htmlContent + pixel
}

// InjectClickTracking rewrites every <a href="..."> target through the click
// redirect endpoint.
func InjectClickTracking(html, baseURL, trackingID string) string {
	startTag := "<a href=\""
	endTag := "\""
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		originalURL := html[startIdx:endIdx]
		trackedURL := GenerateClickTrackURL(baseURL, trackingID, originalURL)

		html = html[:startIdx] + trackedURL + html[endIdx:]
		offset = startIdx + len(trackedURL)
	}

	return html
}
