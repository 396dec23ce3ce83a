package hl7v2_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dotimplement/healthchain-go/internal/interop"
	"github.com/dotimplement/healthchain-go/internal/interop/hl7v2"
	"github.com/dotimplement/healthchain-go/internal/interop/model"
	"github.com/dotimplement/healthchain-go/internal/interop/testfix"
)

const fixtureMessage = "MSH|^~\\&|LAB|HOSP|||20240315103000||ORU^R01|MSG001|P|2.5.1\r" +
	"PID|1||p-42||Lovelace^Ada||19701215|F\r" +
	"OBR|1||ORD-1\r" +
	"OBX|1|NM|2345-7^Glucose^LN||95|mg/dL|||||F|||20240301\r" +
	"OBX|2|NM|718-7^Hemoglobin^LN||13.5|g/dL|||||F|||20240302\r" +
	"ZZZ|custom|payload\r"

func findByType(resources []model.Resource, t model.Type) []model.Resource {
	var out []model.Resource
	for _, r := range resources {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

func TestParseMessageSegments(t *testing.T) {
	msg := hl7v2.ParseMessage(fixtureMessage)
	if len(msg.Segments) != 6 {
		t.Fatalf("segments = %d", len(msg.Segments))
	}

	msh := msg.Segments[0]
	if msh.Field(1) != "|" {
		t.Fatalf("MSH-1 = %q", msh.Field(1))
	}
	if msh.Field(2) != "^~\\&" {
		t.Fatalf("MSH-2 = %q", msh.Field(2))
	}
	if msh.Field(9) != "ORU^R01" {
		t.Fatalf("MSH-9 = %q", msh.Field(9))
	}
	if msh.Field(10) != "MSG001" {
		t.Fatalf("MSH-10 = %q", msh.Field(10))
	}
	if msh.Raw() != "MSH|^~\\&|LAB|HOSP|||20240315103000||ORU^R01|MSG001|P|2.5.1" {
		t.Fatalf("MSH raw = %q", msh.Raw())
	}

	obx := msg.Segments[3]
	if obx.Field(3) != "2345-7^Glucose^LN" {
		t.Fatalf("OBX-3 = %q", obx.Field(3))
	}
	if obx.Component(obx.Field(3), 2) != "Glucose" {
		t.Fatalf("component = %q", obx.Component(obx.Field(3), 2))
	}
	if obx.Field(99) != "" {
		t.Fatal("out-of-range field should be empty")
	}
}

func TestParseMessageAcceptsNewlineTerminators(t *testing.T) {
	for _, sep := range []string{"\r", "\n", "\r\n"} {
		raw := strings.ReplaceAll(fixtureMessage, "\r", sep)
		msg := hl7v2.ParseMessage(raw)
		if len(msg.Segments) != 6 {
			t.Fatalf("separator %q: segments = %d", sep, len(msg.Segments))
		}
	}
}

func TestUnescape(t *testing.T) {
	if got := hl7v2.Unescape(`a\F\b\S\c\R\d\T\e\E\f`); got != `a|b^c~d&e\f` {
		t.Fatalf("Unescape = %q", got)
	}
}

func TestParseFixture(t *testing.T) {
	p := hl7v2.NewParser(testfix.HL7v2Table(t))
	resources, err := p.Parse(fixtureMessage, testfix.Store(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	patients := findByType(resources, model.TypePatient)
	if len(patients) != 1 {
		t.Fatalf("patients = %d", len(patients))
	}
	pat := patients[0]
	if pat.ID != "p-42" {
		t.Fatalf("patient id = %q", pat.ID)
	}
	if pat.Fields["name"] != "Ada Lovelace" || pat.Fields["gender"] != "female" || pat.Fields["birthDate"] != "1970-12-15" {
		t.Fatalf("patient fields = %v", pat.Fields)
	}

	obs := findByType(resources, model.TypeObservation)
	if len(obs) != 2 {
		t.Fatalf("observations = %d", len(obs))
	}
	first := obs[0]
	if first.Fields["code"] != "2345-7" || first.Fields["system"] != "http://loinc.org" {
		t.Fatalf("coding not translated: %v", first.Fields)
	}
	if first.Fields["value"] != "95" || first.Fields["unit"] != "mg/dL" || first.Fields["status"] != "F" {
		t.Fatalf("observation fields = %v", first.Fields)
	}
	if first.Fields["date"] != "2024-03-01" {
		t.Fatalf("date = %q", first.Fields["date"])
	}
	if first.Subject() != "Patient/p-42" {
		t.Fatalf("subject = %q", first.Subject())
	}
}

func TestParsePreservesUnboundSegment(t *testing.T) {
	p := hl7v2.NewParser(testfix.HL7v2Table(t))
	resources, err := p.Parse(fixtureMessage, testfix.Store(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	refs := findByType(resources, model.TypeDocumentReference)
	if len(refs) != 1 {
		t.Fatalf("document references = %d", len(refs))
	}
	ref := refs[0]
	if ref.Fields["title"] != "ZZZ" {
		t.Fatalf("title = %q", ref.Fields["title"])
	}
	if !strings.Contains(ref.Fields["text"], "custom|payload") {
		t.Fatalf("text = %q", ref.Fields["text"])
	}
}

func TestParsePreservesNoteSegments(t *testing.T) {
	raw := "MSH|^~\\&|LAB|HOSP|||20240315103000||ORU^R01|MSG002|P|2.5.1\r" +
		"PID|1||p-42||Lovelace^Ada||19701215|F\r" +
		"OBX|1|NM|2345-7^Glucose^LN||95|mg/dL|||||F|||20240301\r" +
		"NTE|1||Patient fasting for 12 hours prior to draw\r"

	p := hl7v2.NewParser(testfix.HL7v2Table(t))
	resources, err := p.Parse(raw, testfix.Store(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	refs := findByType(resources, model.TypeDocumentReference)
	if len(refs) != 1 {
		t.Fatalf("document references = %d, note segment was dropped", len(refs))
	}
	if refs[0].Fields["title"] != "NTE" {
		t.Fatalf("title = %q", refs[0].Fields["title"])
	}
	if !strings.Contains(refs[0].Fields["text"], "fasting for 12 hours") {
		t.Fatalf("text = %q", refs[0].Fields["text"])
	}
	if refs[0].Subject() != "Patient/p-42" {
		t.Fatalf("subject = %q", refs[0].Subject())
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	p := hl7v2.NewParser(testfix.HL7v2Table(t))
	store := testfix.Store(t)

	for _, raw := range []string{"", "   ", "PID|1||p-1\r"} {
		_, err := p.Parse(raw, store)
		var parseErr *interop.ParseError
		if !errors.As(err, &parseErr) {
			t.Fatalf("Parse(%q): expected ParseError, got %v", raw, err)
		}
	}
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
}

func sampleResources(t *testing.T) []model.Resource {
	t.Helper()
	pat, _ := model.New(model.TypePatient, "p-42")
	_ = pat.Set("name", "Ada Lovelace")
	_ = pat.Set("gender", "female")
	_ = pat.Set("birthDate", "1970-12-15")

	obs, _ := model.New(model.TypeObservation, "obs-1")
	_ = obs.Set("subject", "Patient/p-42")
	_ = obs.Set("code", "2345-7")
	_ = obs.Set("system", "http://loinc.org")
	_ = obs.Set("display", "Glucose [Mass/volume] in Serum or Plasma")
	_ = obs.Set("value", "95")
	_ = obs.Set("unit", "mg/dL")
	_ = obs.Set("status", "F")
	_ = obs.Set("date", "2024-03-01")

	return []model.Resource{pat, obs}
}

func TestGenerateORU(t *testing.T) {
	g := hl7v2.NewGenerator(testfix.Registry(t), testfix.HL7v2Table(t), hl7v2.WithClock(fixedClock))
	out, err := g.Generate(sampleResources(t), "oru", testfix.Store(t))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	segments := strings.Split(strings.TrimSuffix(out, "\r"), "\r")
	if segments[0][:4] != "MSH|" {
		t.Fatalf("first segment = %q", segments[0])
	}
	if !strings.Contains(segments[0], "ORU^R01") {
		t.Fatalf("MSH missing message type: %q", segments[0])
	}
	if !strings.Contains(out, "PID|1||p-42||Lovelace^Ada||19701215|F") {
		t.Fatalf("PID wrong: %q", out)
	}
	// Canonical coding is translated back to the wire system name.
	if !strings.Contains(out, "2345-7^") || !strings.Contains(out, "^LN|") {
		t.Fatalf("OBX coding not translated: %q", out)
	}
	if !strings.Contains(out, "|95|mg/dL|") {
		t.Fatalf("OBX value wrong: %q", out)
	}
	if !strings.HasSuffix(out, "\r") {
		t.Fatal("output should end with the segment terminator")
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	g := hl7v2.NewGenerator(testfix.Registry(t), testfix.HL7v2Table(t), hl7v2.WithClock(fixedClock))
	store := testfix.Store(t)
	resources := sampleResources(t)

	first, err := g.Generate(resources, "oru", store)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := g.Generate(resources, "oru", store)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if first != second {
		t.Fatal("same inputs produced different messages")
	}
}

func TestGenerateRejectsFormatMismatch(t *testing.T) {
	g := hl7v2.NewGenerator(testfix.Registry(t), testfix.HL7v2Table(t))
	_, err := g.Generate(nil, "ccd", testfix.Store(t))
	var cfgErr *interop.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	store := testfix.Store(t)
	table := testfix.HL7v2Table(t)
	g := hl7v2.NewGenerator(testfix.Registry(t), table, hl7v2.WithClock(fixedClock))
	p := hl7v2.NewParser(table)

	out, err := g.Generate(sampleResources(t), "oru", store)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	back, err := p.Parse(out, store)
	if err != nil {
		t.Fatalf("Parse generated message: %v", err)
	}

	obs := findByType(back, model.TypeObservation)
	if len(obs) != 1 {
		t.Fatalf("observations after round trip = %d", len(obs))
	}
	got := obs[0]
	if got.Fields["code"] != "2345-7" || got.Fields["system"] != "http://loinc.org" {
		t.Fatalf("coding did not survive: %v", got.Fields)
	}
	if got.Fields["value"] != "95" || got.Fields["unit"] != "mg/dL" || got.Fields["date"] != "2024-03-01" {
		t.Fatalf("fields did not survive: %v", got.Fields)
	}

	pats := findByType(back, model.TypePatient)
	if len(pats) != 1 || pats[0].ID != "p-42" {
		t.Fatalf("patient did not survive: %v", pats)
	}
}
