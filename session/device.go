package session

import (
	"strings"

	"github.com/mssola/useragent"
)

const unknown = "unknown"

// ClassifyDevice turns a raw User-Agent header into a Device. Empty or unparseable
// agents yield an "unknown" desktop.
func ClassifyDevice(raw string) Device {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Device{Type: "desktop", Browser: unknown, OS: unknown, Platform: unknown}
	}

	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	d := Device{
		Type:     "desktop",
		Browser:  orUnknown(browser),
		OS:       orUnknown(ua.OS()),
		Platform: orUnknown(ua.Platform()),
	}

	lower := strings.ToLower(raw)
	switch {
	case ua.Bot():
		d.Type = "bot"
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		d.Type = "tablet"
	case ua.Mobile():
		d.Type = "mobile"
	}
	return d
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return unknown
	}
	return v
}
