package entity

import (
	"regexp"
	"strings"
	"time"
)

// DisabledBy records who disabled an entity. The zero value means enabled.
type DisabledBy string

const (
	DisabledByNone        DisabledBy = ""
	DisabledByUser        DisabledBy = "user"
	DisabledByIntegration DisabledBy = "integration"
)

// Category marks entities that are not primary controls.
type Category string

const (
	CategoryNone       Category = ""
	CategoryDiagnostic Category = "diagnostic"
	CategoryConfig     Category = "config"
)

// Entry is a registered entity.
type Entry struct {
	EntityID       string     `json:"entity_id"`
	UniqueID       string     `json:"unique_id"`
	Platform       string     `json:"platform"`
	Domain         string     `json:"domain"`
	DeviceID       string     `json:"device_id,omitempty"`
	ConfigEntryID  string     `json:"config_entry_id,omitempty"`
	DisabledBy     DisabledBy `json:"disabled_by,omitempty"`
	EntityCategory Category   `json:"entity_category,omitempty"`
	OriginalName   string     `json:"original_name,omitempty"`
	Icon           string     `json:"icon,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Disabled reports whether the entity is disabled for any reason.
func (e Entry) Disabled() bool {
	return e.DisabledBy != DisabledByNone
}

// Registration describes an entity an integration wants registered.
// DisabledBy only applies when the entity is registered for the first time.
type Registration struct {
	Domain            string
	Platform          string
	UniqueID          string
	SuggestedObjectID string
	DeviceID          string
	ConfigEntryID     string
	DisabledBy        DisabledBy
	EntityCategory    Category
	OriginalName      string
	Icon              string
}

// Update holds the user-editable fields. Nil fields are left unchanged.
type Update struct {
	DisabledBy *DisabledBy
}

var entityIDPattern = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+$`)

// ValidEntityID reports whether id has the form domain.object_id.
func ValidEntityID(id string) bool {
	return entityIDPattern.MatchString(id)
}

// SplitEntityID returns the domain and object id of an entity id.
func SplitEntityID(id string) (domain, objectID string, ok bool) {
	domain, objectID, ok = strings.Cut(id, ".")
	if !ok || domain == "" || objectID == "" {
		return "", "", false
	}
	return domain, objectID, true
}

// DomainOf returns the domain part of an entity id, or "" if malformed.
func DomainOf(id string) string {
	domain, _, _ := SplitEntityID(id)
	return domain
}

// Slugify converts a display name into an object id: lower case ASCII
// letters, digits and single underscores.
func Slugify(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}
