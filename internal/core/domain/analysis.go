package domain

import "time"

type AnalysisStatus string

const (
	StatusPending  AnalysisStatus = "pending"
	StatusComplete AnalysisStatus = "complete"
	StatusFailed   AnalysisStatus = "failed"
)

func (s AnalysisStatus) Valid() bool {
	switch s {
	case StatusPending, StatusComplete, StatusFailed:
		return true
	default:
		return false
	}
}

// AnalysisRecord is one symptom submission and its eventual enrichment result.
// Result and ConfidenceScore are nil until Status is StatusComplete.
type AnalysisRecord struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Symptoms        []string        `json:"symptoms"`
	Description     string          `json:"description,omitempty"`
	Age             string          `json:"age,omitempty"`
	Weight          string          `json:"weight,omitempty"`
	Gender          string          `json:"gender,omitempty"`
	Allergies       string          `json:"allergies,omitempty"`
	Medications     string          `json:"medications,omitempty"`
	Status          AnalysisStatus  `json:"status"`
	Result          *AnalysisResult `json:"result"`
	ConfidenceScore *int            `json:"confidence_score"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PatientDetails holds the optional free-text intake fields.
type PatientDetails struct {
	Description string `json:"description,omitempty"`
	Age         string `json:"age,omitempty"`
	Weight      string `json:"weight,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Allergies   string `json:"allergies,omitempty"`
	Medications string `json:"medications,omitempty"`
}

type SubmitAnalysisRequest struct {
	OwnerID  string   `json:"owner_id"`
	Symptoms []string `json:"symptoms"`
	PatientDetails
}

type SubmitAnalysisResult struct {
	Record           *AnalysisRecord `json:"analysis"`
	EnrichmentQueued bool            `json:"enrichment_queued"`
}

// Enrichment is the parsed output of one enrichment call.
type Enrichment struct {
	Result           AnalysisResult
	Raw              string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

type AnalysisPage struct {
	Items  []AnalysisRecord `json:"items"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

type AnalysisStats struct {
	Total             int      `json:"total"`
	Pending           int      `json:"pending"`
	Complete          int      `json:"complete"`
	Failed            int      `json:"failed"`
	AverageConfidence *float64 `json:"average_confidence"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ClampPage applies the bounded page size used by every list read.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
