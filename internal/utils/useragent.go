package utils

import (
	"strings"

	"github.com/mssola/user_agent"

	"github.com/iliyamo/seat-settlement/internal/model"
)

// ParseDevice summarises a User-Agent header for audit metadata.  An empty
// header yields an "unknown" device rather than an error.
func ParseDevice(header string) model.DeviceInfo {
	if strings.TrimSpace(header) == "" {
		return model.DeviceInfo{OS: "unknown", Browser: "unknown", DeviceType: "unknown"}
	}
	ua := user_agent.New(header)
	name, version := ua.Browser()
	browser := strings.TrimSpace(name + " " + version)
	if browser == "" {
		browser = "unknown"
	}
	osName := ua.OS()
	if osName == "" {
		osName = "unknown"
	}
	device := "desktop"
	switch {
	case ua.Bot():
		device = "bot"
	case isTablet(header):
		device = "tablet"
	case ua.Mobile():
		device = "mobile"
	}
	return model.DeviceInfo{OS: osName, Browser: browser, DeviceType: device}
}

// isTablet catches iPads and Android tablets, which omit the "Mobile"
// token that Android phones send.
func isTablet(header string) bool {
	h := strings.ToLower(header)
	if strings.Contains(h, "ipad") || strings.Contains(h, "tablet") {
		return true
	}
	return strings.Contains(h, "android") && !strings.Contains(h, "mobile")
}
