package adcp

import (
	"sort"
	"strings"
)

// Asset url_type values with special handling.
const URLTypeTrackerPixel = "tracker_pixel"

// Creative statuses within a tenant's library.
const (
	CreativeStatusPendingReview      = "pending_review"
	CreativeStatusApproved           = "approved"
	CreativeStatusRejected           = "rejected"
	CreativeStatusAdaptationRequired = "adaptation_required"
)

// Asset describes one named slot of a creative.
type Asset struct {
	URL        string `json:"url,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	DurationMS int    `json:"duration_ms,omitempty"`
	Content    string `json:"content,omitempty"`
	URLType    string `json:"url_type,omitempty"`
}

// TrackingURLs groups tracking endpoints by event.
type TrackingURLs struct {
	Impression []string `json:"impression,omitempty"`
	Click      []string `json:"click,omitempty"`
}

// DeliverySettings carries adapter-facing delivery configuration.
type DeliverySettings struct {
	TrackingURLs *TrackingURLs `json:"tracking_urls,omitempty"`
}

// Creative is the wire shape of an ad asset in the tenant library.
type Creative struct {
	CreativeID       string            `json:"creative_id"`
	Name             string            `json:"name"`
	FormatID         FormatID          `json:"format_id"`
	Assets           map[string]Asset  `json:"assets"`
	DeliverySettings *DeliverySettings `json:"delivery_settings,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
}

// impressionTrackerPrefix marks asset slots that hold impression pixels.
const impressionTrackerPrefix = "impression_tracker_"

// RenderForAdapter returns a copy of the creative with tracking pixels lifted
// out of the asset map into delivery_settings.tracking_urls.impression. The
// original asset entries are preserved. Tracker order follows the sorted
// asset key order so renders are deterministic.
func RenderForAdapter(c Creative) Creative {
	keys := make([]string, 0, len(c.Assets))
	for k := range c.Assets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var trackers []string
	for _, k := range keys {
		a := c.Assets[k]
		if a.URL == "" {
			continue
		}
		if strings.HasPrefix(k, impressionTrackerPrefix) || a.URLType == URLTypeTrackerPixel {
			trackers = append(trackers, a.URL)
		}
	}
	if len(trackers) == 0 {
		return c
	}

	out := c
	ds := DeliverySettings{}
	if c.DeliverySettings != nil {
		ds = *c.DeliverySettings
	}
	tu := TrackingURLs{}
	if ds.TrackingURLs != nil {
		tu = *ds.TrackingURLs
	}
	tu.Impression = append(append([]string{}, tu.Impression...), trackers...)
	ds.TrackingURLs = &tu
	out.DeliverySettings = &ds
	return out
}
