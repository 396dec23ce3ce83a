// Package cda converts between CDA R2 clinical documents and canonical
// resources. Parsing is driven by the section definitions in the
// configuration store; generation is driven by the same definitions plus
// the template registry.
package cda

import "encoding/xml"

const (
	// Namespace is the CDA R2 XML namespace.
	Namespace = "urn:hl7-org:v3"
	// XSINamespace qualifies xsi:type attributes on typed values.
	XSINamespace = "http://www.w3.org/2001/XMLSchema-instance"
)

// ClinicalDocument is the structural model of a CDA R2 document. Parsing
// stops at structure; semantic interpretation happens against the section
// definitions, not here.
type ClinicalDocument struct {
	XMLName             xml.Name      `xml:"urn:hl7-org:v3 ClinicalDocument"`
	RealmCode           *Code         `xml:"realmCode"`
	TypeID              *InstanceID   `xml:"typeId"`
	TemplateIDs         []InstanceID  `xml:"templateId"`
	ID                  *InstanceID   `xml:"id"`
	Code                *Code         `xml:"code"`
	Title               string        `xml:"title"`
	EffectiveTime       *TimeValue    `xml:"effectiveTime"`
	ConfidentialityCode *Code         `xml:"confidentialityCode"`
	LanguageCode        *Code         `xml:"languageCode"`
	RecordTarget        *RecordTarget `xml:"recordTarget"`
	Component           *Component    `xml:"component"`
}

// InstanceID is a root/extension identifier pair, also used for template
// ids.
type InstanceID struct {
	Root      string `xml:"root,attr"`
	Extension string `xml:"extension,attr,omitempty"`
}

// Code is a coded value with optional code system and display.
type Code struct {
	Code           string `xml:"code,attr,omitempty"`
	CodeSystem     string `xml:"codeSystem,attr,omitempty"`
	CodeSystemName string `xml:"codeSystemName,attr,omitempty"`
	DisplayName    string `xml:"displayName,attr,omitempty"`
	NullFlavor     string `xml:"nullFlavor,attr,omitempty"`
}

// TimeValue is a point-in-time stamp in HL7 format.
type TimeValue struct {
	Value string `xml:"value,attr,omitempty"`
}

// TimeRange is an effectiveTime interval.
type TimeRange struct {
	Value string     `xml:"value,attr,omitempty"`
	Low   *TimeValue `xml:"low"`
	High  *TimeValue `xml:"high"`
}

// RecordTarget carries the document subject.
type RecordTarget struct {
	PatientRole *PatientRole `xml:"patientRole"`
}

// PatientRole holds subject identifiers and demographics.
type PatientRole struct {
	IDs     []InstanceID `xml:"id"`
	Patient *Patient     `xml:"patient"`
}

// Patient holds subject demographics.
type Patient struct {
	Name                     *Name      `xml:"name"`
	AdministrativeGenderCode *Code      `xml:"administrativeGenderCode"`
	BirthTime                *TimeValue `xml:"birthTime"`
}

// Name is a person name.
type Name struct {
	Given  string `xml:"given"`
	Family string `xml:"family"`
}

// Component wraps the structured body.
type Component struct {
	StructuredBody *StructuredBody `xml:"structuredBody"`
}

// StructuredBody holds the document sections.
type StructuredBody struct {
	Components []SectionComponent `xml:"component"`
}

// SectionComponent wraps a single section.
type SectionComponent struct {
	Section *Section `xml:"section"`
}

// Section is one document section with its identifying markers, narrative,
// and entries.
type Section struct {
	TemplateIDs []InstanceID `xml:"templateId"`
	Code        *Code        `xml:"code"`
	Title       string       `xml:"title"`
	Text        *Narrative   `xml:"text"`
	Entries     []Entry      `xml:"entry"`
}

// Narrative is the human-readable block of a section, kept as raw inner
// XML so unrecognised sections can be preserved verbatim.
type Narrative struct {
	Content string `xml:",innerxml"`
}

// Entry holds exactly one clinical statement; which element is present
// depends on the section shape.
type Entry struct {
	TypeCode                string                   `xml:"typeCode,attr,omitempty"`
	Act                     *Act                     `xml:"act"`
	Observation             *Observation             `xml:"observation"`
	Organizer               *Organizer               `xml:"organizer"`
	SubstanceAdministration *SubstanceAdministration `xml:"substanceAdministration"`
	Procedure               *ClinicalStatement       `xml:"procedure"`
	Encounter               *ClinicalStatement       `xml:"encounter"`
}

// Act is a CDA act; concern acts carry their payload in a nested
// observation.
type Act struct {
	IDs                []InstanceID        `xml:"id"`
	Code               *Code               `xml:"code"`
	StatusCode         *Code               `xml:"statusCode"`
	EffectiveTime      *TimeRange          `xml:"effectiveTime"`
	EntryRelationships []EntryRelationship `xml:"entryRelationship"`
}

// EntryRelationship links nested statements to their containing act.
type EntryRelationship struct {
	TypeCode    string       `xml:"typeCode,attr,omitempty"`
	Observation *Observation `xml:"observation"`
}

// Observation is a CDA observation with an optional typed value.
type Observation struct {
	IDs           []InstanceID `xml:"id"`
	Code          *Code        `xml:"code"`
	StatusCode    *Code        `xml:"statusCode"`
	EffectiveTime *TimeRange   `xml:"effectiveTime"`
	Value         *Value       `xml:"value"`
	Consumable    *Consumable  `xml:"consumable"`
}

// Value is a typed value: a physical quantity (value/unit) or a coded
// value (code/codeSystem/displayName).
type Value struct {
	Type        string `xml:"type,attr,omitempty"`
	Value       string `xml:"value,attr,omitempty"`
	Unit        string `xml:"unit,attr,omitempty"`
	Code        string `xml:"code,attr,omitempty"`
	CodeSystem  string `xml:"codeSystem,attr,omitempty"`
	DisplayName string `xml:"displayName,attr,omitempty"`
	NullFlavor  string `xml:"nullFlavor,attr,omitempty"`
}

// Organizer groups related observations (lab panels, vital sign sets).
type Organizer struct {
	IDs           []InstanceID         `xml:"id"`
	Code          *Code                `xml:"code"`
	StatusCode    *Code                `xml:"statusCode"`
	EffectiveTime *TimeRange           `xml:"effectiveTime"`
	Components    []OrganizerComponent `xml:"component"`
}

// OrganizerComponent wraps one observation inside an organizer.
type OrganizerComponent struct {
	Observation *Observation `xml:"observation"`
}

// SubstanceAdministration is a medication or immunization statement.
type SubstanceAdministration struct {
	IDs           []InstanceID `xml:"id"`
	StatusCode    *Code        `xml:"statusCode"`
	EffectiveTime *TimeRange   `xml:"effectiveTime"`
	Consumable    *Consumable  `xml:"consumable"`
	DoseQuantity  *Value       `xml:"doseQuantity"`
}

// Consumable wraps the administered material's code.
type Consumable struct {
	ManufacturedProduct *ManufacturedProduct `xml:"manufacturedProduct"`
}

// ManufacturedProduct holds the medication material.
type ManufacturedProduct struct {
	ManufacturedMaterial *ManufacturedMaterial `xml:"manufacturedMaterial"`
}

// ManufacturedMaterial holds the medication code.
type ManufacturedMaterial struct {
	Code *Code `xml:"code"`
}

// ClinicalStatement is the shared shape of procedure and encounter
// entries: a code, a status, and an effective time.
type ClinicalStatement struct {
	IDs           []InstanceID `xml:"id"`
	Code          *Code        `xml:"code"`
	StatusCode    *Code        `xml:"statusCode"`
	EffectiveTime *TimeRange   `xml:"effectiveTime"`
}
