// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"regexp"
	"strings"
	"sync"
)

// subjectIDPattern matches explicit subject identifiers like "P001".
var subjectIDPattern = regexp.MustCompile(`^[Pp]\d+$`)

// Directory is the in-process clinical data source backing the lookup
// tools. Production deployments replace the seed data by loading records
// from the EHR export at startup; the lookup semantics stay the same.
//
// Thread Safety:
//
//	Directory is safe for concurrent use after construction.
type Directory struct {
	mu sync.RWMutex

	subjects     map[string]*Subject
	medications  map[string][]Medication
	interactions map[string]Interaction

	// allergyClasses maps an allergy to the drug names it conflicts with.
	allergyClasses map[string][]string
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		subjects:       make(map[string]*Subject),
		medications:    make(map[string][]Medication),
		interactions:   make(map[string]Interaction),
		allergyClasses: make(map[string][]string),
	}
}

// SeedDirectory returns a directory loaded with the demo clinical
// dataset used in development and tests.
func SeedDirectory() *Directory {
	d := NewDirectory()

	d.AddSubject(&Subject{ID: "P001", Name: "John Smith", BirthYear: 1958,
		Allergies: []string{"penicillin"}})
	d.AddSubject(&Subject{ID: "P002", Name: "Mary Johnson", BirthYear: 1971,
		Allergies: []string{"sulfa", "latex"}})
	d.AddSubject(&Subject{ID: "P003", Name: "Robert Chen", BirthYear: 1949,
		Allergies: []string{}})

	d.SetMedications("P001", []Medication{
		{Name: "Lisinopril", Dose: "10mg", Frequency: "daily"},
		{Name: "Metformin", Dose: "500mg", Frequency: "twice daily"},
	})
	d.SetMedications("P002", []Medication{
		{Name: "Atorvastatin", Dose: "20mg", Frequency: "nightly"},
		{Name: "Levothyroxine", Dose: "75mcg", Frequency: "daily"},
	})
	d.SetMedications("P003", []Medication{
		{Name: "Warfarin", Dose: "5mg", Frequency: "daily"},
		{Name: "Amiodarone", Dose: "200mg", Frequency: "daily"},
	})

	d.AddInteraction(Interaction{
		DrugA: "Warfarin", DrugB: "Amiodarone", Severity: "major",
		Recommendation: "reduce warfarin dose and monitor INR closely",
	})
	d.AddInteraction(Interaction{
		DrugA: "Lisinopril", DrugB: "Potassium", Severity: "moderate",
		Recommendation: "monitor serum potassium for hyperkalemia",
	})
	d.AddInteraction(Interaction{
		DrugA: "Warfarin", DrugB: "Aspirin", Severity: "major",
		Recommendation: "avoid combination, elevated bleeding risk",
	})

	d.SetAllergyClass("penicillin", []string{"penicillin", "amoxicillin", "ampicillin"})
	d.SetAllergyClass("sulfa", []string{"sulfamethoxazole", "sulfasalazine"})
	d.SetAllergyClass("aspirin", []string{"aspirin", "ibuprofen", "naproxen"})

	return d
}

// AddSubject registers a subject record.
func (d *Directory) AddSubject(s *Subject) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subjects[strings.ToUpper(s.ID)] = s
}

// SetMedications replaces a subject's medication list.
func (d *Directory) SetMedications(subjectID string, meds []Medication) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.medications[strings.ToUpper(subjectID)] = meds
}

// AddInteraction registers a drug-drug interaction (symmetric).
func (d *Directory) AddInteraction(i Interaction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interactions[interactionKey(i.DrugA, i.DrugB)] = i
}

// SetAllergyClass maps an allergy to the conflicting drug names.
func (d *Directory) SetAllergyClass(allergy string, drugs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allergyClasses[strings.ToLower(allergy)] = drugs
}

// FindSubject resolves an identifier or name fragment to a subject.
//
// Description:
//
//	Identifiers matching ^[Pp]\d+$ are looked up directly. Anything else
//	is treated as a case-insensitive name substring; the first match in
//	ID order wins.
//
// Inputs:
//
//	query - Subject ID or name fragment
//
// Outputs:
//
//	*Subject - The matched subject
//	bool - False when nothing matched
func (d *Directory) FindSubject(query string) (*Subject, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, false
	}

	if subjectIDPattern.MatchString(query) {
		s, ok := d.subjects[strings.ToUpper(query)]
		return s, ok
	}

	needle := strings.ToLower(query)
	var best *Subject
	for _, s := range d.subjects {
		if strings.Contains(strings.ToLower(s.Name), needle) {
			if best == nil || s.ID < best.ID {
				best = s
			}
		}
	}
	return best, best != nil
}

// MedicationsFor returns the medication list for a subject ID.
func (d *Directory) MedicationsFor(subjectID string) ([]Medication, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	meds, ok := d.medications[strings.ToUpper(subjectID)]
	return meds, ok
}

// FindInteraction looks up the interaction for a drug pair, if any.
func (d *Directory) FindInteraction(drugA, drugB string) (Interaction, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	i, ok := d.interactions[interactionKey(drugA, drugB)]
	return i, ok
}

// ConflictingDrugs returns the drug names a recorded allergy rules out.
func (d *Directory) ConflictingDrugs(allergy string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.allergyClasses[strings.ToLower(allergy)]
}

// interactionKey builds an order-independent map key for a drug pair.
func interactionKey(a, b string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
