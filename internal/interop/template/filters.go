package template

import (
	"strings"
	"time"
)

// builtinFilters returns the transform functions available in every
// template. Callers add domain filters (e.g. a mapCode filter bound to a
// mapping table) via WithFilter or RegisterFilter.
func builtinFilters() map[string]any {
	return map[string]any{
		"hl7Date":    HL7Date,
		"isoDate":    ISODate,
		"hl7Time":    HL7Time,
		"xmlEscape":  XMLEscape,
		"hl7Escape":  HL7Escape,
		"genderCode": GenderCode,
		"hl7Name":    HL7Name,
		"givenName":  GivenName,
		"familyName": FamilyName,
	}
}

// HL7Date converts an ISO-8601 date or datetime string to the flat HL7
// convention (YYYYMMDD or YYYYMMDDHHMMSS). Unparseable input passes through
// unchanged so a malformed field degrades visibly instead of erasing data.
func HL7Date(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			if layout == "2006-01-02" {
				return t.Format("20060102")
			}
			return t.Format("20060102150405")
		}
	}
	return s
}

// ISODate converts a flat HL7 date/datetime (YYYYMMDD[HHMMSS]) to ISO-8601.
// Unparseable input passes through unchanged.
func ISODate(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case len(s) >= 14:
		if t, err := time.Parse("20060102150405", s[:14]); err == nil {
			return t.Format("2006-01-02T15:04:05")
		}
	case len(s) >= 8:
		if t, err := time.Parse("20060102", s[:8]); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}

// HL7Time formats a time.Time as an HL7 timestamp (YYYYMMDDHHMMSS, UTC).
func HL7Time(t time.Time) string {
	return t.UTC().Format("20060102150405")
}

// XMLEscape escapes the five XML special characters for use in attribute
// values and text content.
func XMLEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}

// HL7Escape escapes the HL7v2 delimiter characters:
//
//	\F\ = |   \S\ = ^   \R\ = ~   \E\ = \   \T\ = &
func HL7Escape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\E\\")
	s = strings.ReplaceAll(s, "|", "\\F\\")
	s = strings.ReplaceAll(s, "^", "\\S\\")
	s = strings.ReplaceAll(s, "~", "\\R\\")
	s = strings.ReplaceAll(s, "&", "\\T\\")
	return s
}

// GenderCode maps a canonical gender value to the HL7 administrative
// gender code.
func GenderCode(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male":
		return "M"
	case "female":
		return "F"
	case "other":
		return "O"
	default:
		return "U"
	}
}

// HL7Name converts a canonical "Given Family" name to the HL7v2 XPN order
// "Family^Given". A single word is treated as a family name.
func HL7Name(s string) string {
	given, family := splitName(s)
	if given == "" {
		return family
	}
	return family + "^" + given
}

// GivenName returns the given-name part of a canonical "Given Family"
// name.
func GivenName(s string) string {
	given, _ := splitName(s)
	return given
}

// FamilyName returns the family-name part of a canonical "Given Family"
// name.
func FamilyName(s string) string {
	_, family := splitName(s)
	return family
}

func splitName(s string) (given, family string) {
	parts := strings.Fields(s)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}
