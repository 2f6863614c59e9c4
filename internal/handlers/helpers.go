package handlers

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/squire/backend/internal/collective"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(value string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "-")
	return strings.Trim(slug, "-")
}

// withTabs merges the active section's tab navigation into a response body.
func withTabs(c *fiber.Ctx, data fiber.Map) fiber.Map {
	if tabs := collective.TabsFromContext(c); tabs != nil {
		data["tabs"] = tabs
	}
	return data
}
