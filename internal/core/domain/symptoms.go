package domain

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxSymptomLength   = 200
	MaxSymptoms        = 50
	MaxFreeTextLength  = 2000
	MaxChatMessageSize = 4000
)

// CommonSymptoms is the quick-pick list offered by the intake form.
var CommonSymptoms = []string{
	"Headache",
	"Fever",
	"Cough",
	"Fatigue",
	"Nausea",
	"Chest pain",
	"Shortness of breath",
	"Dizziness",
	"Sore throat",
}

// NormalizeSymptoms trims entries and drops blanks and exact duplicates while
// keeping the order in which symptoms were entered.
func NormalizeSymptoms(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Normalize trims every free-text field.
func (p PatientDetails) Normalize() PatientDetails {
	return PatientDetails{
		Description: strings.TrimSpace(p.Description),
		Age:         strings.TrimSpace(p.Age),
		Weight:      strings.TrimSpace(p.Weight),
		Gender:      strings.TrimSpace(p.Gender),
		Allergies:   strings.TrimSpace(p.Allergies),
		Medications: strings.TrimSpace(p.Medications),
	}
}

func (p PatientDetails) validate(problems *FieldErrors) {
	fields := []struct {
		name  string
		value string
	}{
		{"description", p.Description},
		{"age", p.Age},
		{"weight", p.Weight},
		{"gender", p.Gender},
		{"allergies", p.Allergies},
		{"medications", p.Medications},
	}
	for _, f := range fields {
		if utf8.RuneCountInString(f.value) > MaxFreeTextLength {
			problems.Addf("%s exceeds %d characters", f.name, MaxFreeTextLength)
		}
	}
}

// Normalize returns a trimmed copy of the request and validates it.
func (r SubmitAnalysisRequest) Normalize() (SubmitAnalysisRequest, error) {
	out := SubmitAnalysisRequest{
		OwnerID:        strings.TrimSpace(r.OwnerID),
		Symptoms:       NormalizeSymptoms(r.Symptoms),
		PatientDetails: r.PatientDetails.Normalize(),
	}

	var problems FieldErrors
	if out.OwnerID == "" {
		problems.Addf("owner_id is required")
	}
	if len(out.Symptoms) == 0 {
		problems.Addf("at least one symptom is required")
	}
	if len(out.Symptoms) > MaxSymptoms {
		problems.Addf("at most %d symptoms are accepted", MaxSymptoms)
	}
	for i, s := range out.Symptoms {
		if utf8.RuneCountInString(s) > MaxSymptomLength {
			problems.Addf("symptoms[%d] exceeds %d characters", i, MaxSymptomLength)
		}
	}
	out.PatientDetails.validate(&problems)

	if err := problems.Err("submit analysis"); err != nil {
		return SubmitAnalysisRequest{}, err
	}
	return out, nil
}
