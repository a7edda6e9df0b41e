package domain

import (
	"math"
	"strings"
)

type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityMild, SeverityModerate, SeveritySevere:
		return true
	default:
		return false
	}
}

type Route string

const (
	RouteOral      Route = "oral"
	RouteTopical   Route = "topical"
	RouteInjection Route = "injection"
)

func (r Route) Valid() bool {
	switch r {
	case RouteOral, RouteTopical, RouteInjection:
		return true
	default:
		return false
	}
}

type Condition struct {
	Name             string   `json:"name"`
	Confidence       float64  `json:"confidence"`
	Severity         Severity `json:"severity"`
	Description      string   `json:"description"`
	MatchingSymptoms []string `json:"matching_symptoms"`
}

type Medication struct {
	Name        string   `json:"name"`
	Dosage      string   `json:"dosage"`
	Duration    string   `json:"duration"`
	Route       Route    `json:"route"`
	SideEffects []string `json:"side_effects"`
	Purpose     string   `json:"purpose"`
	Precautions string   `json:"precautions"`
}

// AnalysisResult is the fixed schema requested from the enrichment call.
type AnalysisResult struct {
	Conditions          []Condition  `json:"conditions"`
	Medications         []Medication `json:"medications"`
	SeverityOverall     Severity     `json:"severity_overall"`
	SeekImmediateCare   bool         `json:"seek_immediate_care"`
	CareRecommendations []string     `json:"care_recommendations"`
	FollowUp            string       `json:"follow_up"`
	Disclaimer          string       `json:"disclaimer"`
}

// Validate checks enum values and numeric ranges. Problems are reported as
// FieldErrors so the caller can turn them into a single schema error.
func (r *AnalysisResult) Validate() FieldErrors {
	var problems FieldErrors
	for i, c := range r.Conditions {
		if strings.TrimSpace(c.Name) == "" {
			problems.Addf("conditions[%d].name is empty", i)
		}
		if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 100 {
			problems.Addf("conditions[%d].confidence %v outside 0-100", i, c.Confidence)
		}
		if !c.Severity.Valid() {
			problems.Addf("conditions[%d].severity %q is not mild|moderate|severe", i, c.Severity)
		}
	}
	for i, m := range r.Medications {
		if strings.TrimSpace(m.Name) == "" {
			problems.Addf("medications[%d].name is empty", i)
		}
		if !m.Route.Valid() {
			problems.Addf("medications[%d].route %q is not oral|topical|injection", i, m.Route)
		}
	}
	if !r.SeverityOverall.Valid() {
		problems.Addf("severity_overall %q is not mild|moderate|severe", r.SeverityOverall)
	}
	return problems
}

// Normalize replaces nil slices with empty ones so stored results render as [].
func (r *AnalysisResult) Normalize() {
	if r.Conditions == nil {
		r.Conditions = []Condition{}
	}
	if r.Medications == nil {
		r.Medications = []Medication{}
	}
	if r.CareRecommendations == nil {
		r.CareRecommendations = []string{}
	}
	for i := range r.Conditions {
		if r.Conditions[i].MatchingSymptoms == nil {
			r.Conditions[i].MatchingSymptoms = []string{}
		}
	}
	for i := range r.Medications {
		if r.Medications[i].SideEffects == nil {
			r.Medications[i].SideEffects = []string{}
		}
	}
}

// ConfidenceScore is the mean condition confidence rounded to the nearest
// integer. A result without conditions scores 0.
func ConfidenceScore(conditions []Condition) int {
	if len(conditions) == 0 {
		return 0
	}
	var sum float64
	for _, c := range conditions {
		sum += c.Confidence
	}
	return int(math.Round(sum / float64(len(conditions))))
}
