package models

import (
	"strings"
	"time"
)

// Field names used by selector tables.
const (
	FieldSourceURL         = "sourceUrl"
	FieldTitle             = "title"
	FieldFullName          = "fullName"
	FieldPosition          = "position"
	FieldOrgUnit           = "orgUnit"
	FieldTelephone         = "telephone"
	FieldEmail             = "email"
	FieldORCID             = "orcid"
	FieldGoogleScholarURL  = "googleScholarUrl"
	FieldBriefIntroduction = "briefIntroduction"
)

// ColumnStyle selects how profile fields are named in a datastore.
type ColumnStyle int

const (
	// ColumnsSnake is used by the SQL sinks (source_url, full_name, ...).
	ColumnsSnake ColumnStyle = iota
	// ColumnsLegacy matches the original Supabase tables ("website", "full name", ...).
	ColumnsLegacy
)

type Profile struct {
	SourceURL         string    `json:"source_url"`
	Institution       string    `json:"institution,omitempty"`
	Title             string    `json:"title,omitempty"`
	FullName          string    `json:"full_name"`
	Position          []string  `json:"position,omitempty"`
	OrgUnit           string    `json:"org_unit,omitempty"`
	Telephone         string    `json:"telephone,omitempty"`
	Email             string    `json:"email,omitempty"`
	ORCID             string    `json:"orcid,omitempty"`
	GoogleScholarURL  string    `json:"google_scholar_url,omitempty"`
	BriefIntroduction string    `json:"brief_introduction,omitempty"`
	ScrapedAt         time.Time `json:"scraped_at"`
}

func NewProfile(sourceURL, institution string) *Profile {
	return &Profile{
		SourceURL:   sourceURL,
		Institution: institution,
		ScrapedAt:   time.Now().UTC(),
	}
}

// KnownField reports whether name is a field a selector table may target.
func KnownField(name string) bool {
	switch name {
	case FieldTitle, FieldFullName, FieldPosition, FieldOrgUnit, FieldTelephone,
		FieldEmail, FieldORCID, FieldGoogleScholarURL, FieldBriefIntroduction:
		return true
	}
	return false
}

// Get returns the current value of a text field. Position is joined with newlines.
func (p *Profile) Get(field string) string {
	switch field {
	case FieldSourceURL:
		return p.SourceURL
	case FieldTitle:
		return p.Title
	case FieldFullName:
		return p.FullName
	case FieldPosition:
		return strings.Join(p.Position, "\n")
	case FieldOrgUnit:
		return p.OrgUnit
	case FieldTelephone:
		return p.Telephone
	case FieldEmail:
		return p.Email
	case FieldORCID:
		return p.ORCID
	case FieldGoogleScholarURL:
		return p.GoogleScholarURL
	case FieldBriefIntroduction:
		return p.BriefIntroduction
	}
	return ""
}

// Set assigns a field. Setting position appends one entry to the ordered list.
func (p *Profile) Set(field, value string) bool {
	switch field {
	case FieldSourceURL:
		p.SourceURL = value
	case FieldTitle:
		p.Title = value
	case FieldFullName:
		p.FullName = value
	case FieldPosition:
		p.Position = append(p.Position, value)
	case FieldOrgUnit:
		p.OrgUnit = value
	case FieldTelephone:
		p.Telephone = value
	case FieldEmail:
		p.Email = value
	case FieldORCID:
		p.ORCID = value
	case FieldGoogleScholarURL:
		p.GoogleScholarURL = value
	case FieldBriefIntroduction:
		p.BriefIntroduction = value
	default:
		return false
	}
	return true
}

// Validate returns the reasons a profile must not be persisted.
func (p *Profile) Validate() []string {
	var errors []string

	if strings.TrimSpace(p.SourceURL) == "" {
		errors = append(errors, "source URL is required")
	}

	if strings.TrimSpace(p.FullName) == "" {
		errors = append(errors, "full name is required")
	}

	return errors
}

// Columns maps the profile onto datastore columns. Empty optional fields are
// returned as nil so sinks can keep previously stored values.
func (p *Profile) Columns(style ColumnStyle) map[string]any {
	names := snakeColumns
	if style == ColumnsLegacy {
		names = legacyColumns
	}

	cols := map[string]any{
		names[FieldSourceURL]: p.SourceURL,
		names[FieldFullName]:  p.FullName,
	}
	for _, field := range []string{
		FieldTitle, FieldOrgUnit, FieldTelephone, FieldEmail,
		FieldORCID, FieldGoogleScholarURL, FieldBriefIntroduction,
	} {
		cols[names[field]] = nullable(p.Get(field))
	}

	if len(p.Position) > 0 {
		cols[names[FieldPosition]] = p.Position
	} else {
		cols[names[FieldPosition]] = nil
	}

	return cols
}

// ColumnName returns the datastore column for a field.
func ColumnName(style ColumnStyle, field string) string {
	if style == ColumnsLegacy {
		return legacyColumns[field]
	}
	return snakeColumns[field]
}

var snakeColumns = map[string]string{
	FieldSourceURL:         "source_url",
	FieldTitle:             "title",
	FieldFullName:          "full_name",
	FieldPosition:          "position",
	FieldOrgUnit:           "org_unit",
	FieldTelephone:         "telephone",
	FieldEmail:             "email",
	FieldORCID:             "orcid",
	FieldGoogleScholarURL:  "google_scholar_url",
	FieldBriefIntroduction: "brief_introduction",
}

var legacyColumns = map[string]string{
	FieldSourceURL:         "website",
	FieldTitle:             "title",
	FieldFullName:          "full name",
	FieldPosition:          "position",
	FieldOrgUnit:           "org unit",
	FieldTelephone:         "telephone",
	FieldEmail:             "email",
	FieldORCID:             "orcid",
	FieldGoogleScholarURL:  "google scholar",
	FieldBriefIntroduction: "brief introduction",
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
