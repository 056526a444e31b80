package domain

import "time"

// SearchFilter narrows both read primitives to a payload predicate.
// Zero values mean "no constraint".
type SearchFilter struct {
	LegalDomain   LegalDomain
	DocumentType  DocumentType
	EffectiveFrom time.Time
	EffectiveTo   time.Time
	OnlyCurrent   bool
	Keywords      []string
}

// SearchHit is produced per query and never persisted. CombinedScore is
// only meaningful when at least one of the two signals is present.
type SearchHit struct {
	ChunkID       string       `json:"chunk_id"`
	DocumentID    string       `json:"document_id"`
	Title         string       `json:"title"`
	Text          string       `json:"text"`
	SourceURL     string       `json:"source_url"`
	DocumentType  DocumentType `json:"document_type"`
	LegalDomain   LegalDomain  `json:"legal_domain"`
	EffectiveDate time.Time    `json:"effective_date"`
	IsCurrent     bool         `json:"is_current"`

	VectorScore   float64 `json:"vector_score"`
	KeywordScore  float64 `json:"keyword_score"`
	HasVector     bool    `json:"-"`
	HasKeyword    bool    `json:"-"`
	CombinedScore float64 `json:"combined_score"`
}

// SourceCitation is drawn verbatim from the originating document; the
// answer gate must never invent one.
type SourceCitation struct {
	Title        string       `json:"title"`
	DocumentType DocumentType `json:"document_type"`
	Date         time.Time    `json:"date"`
	URL          string       `json:"url"`
	Historical   bool         `json:"historical,omitempty"`
}

// AnswerCandidate is the single structured object handed to the
// presentation layer. Referral answers carry a reason and keep the legal
// sections empty rather than fabricating content.
type AnswerCandidate struct {
	Referral        bool             `json:"referral"`
	ReferralReason  string           `json:"referral_reason,omitempty"`
	Introduction    string           `json:"introduction"`
	LegalFramework  string           `json:"legal_framework"`
	Application     string           `json:"application"`
	Exceptions      string           `json:"exceptions,omitempty"`
	Recommendations []string         `json:"recommendations"`
	Sources         []SourceCitation `json:"sources"`
	Confidence      float64          `json:"confidence"`
	Disclaimer      string           `json:"disclaimer"`
	DateUpdated     time.Time        `json:"date_updated"`
}
