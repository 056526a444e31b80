package domain

import "time"

type DocumentType string

const (
	TypeStatute        DocumentType = "statute"
	TypeCaseLaw        DocumentType = "case_law"
	TypeAdministrative DocumentType = "administrative"
	TypeRegulation     DocumentType = "regulation"
)

type LegalDomain string

const (
	DomainFiscal       LegalDomain = "fiscal"
	DomainTravail      LegalDomain = "travail"
	DomainAffaires     LegalDomain = "affaires"
	DomainFamille      LegalDomain = "famille"
	DomainImmobilier   LegalDomain = "immobilier"
	DomainConsommation LegalDomain = "consommation"
	DomainPenal        LegalDomain = "penal"
	DomainAutre        LegalDomain = "autre"
)

// Taxonomy lists every legal domain a document can be classified into.
func Taxonomy() []LegalDomain {
	return []LegalDomain{
		DomainFiscal, DomainTravail, DomainAffaires, DomainFamille,
		DomainImmobilier, DomainConsommation, DomainPenal, DomainAutre,
	}
}

// RawDocument is the canonical form every upstream source is normalized into.
// Rows are immutable: re-ingesting changed upstream content inserts a new
// version and supersedes the old one, it never mutates in place.
type RawDocument struct {
	Source         string            `json:"source"`
	SourceID       string            `json:"source_id"`
	Version        int               `json:"version"`
	Title          string            `json:"title"`
	RawText        string            `json:"raw_text"`
	DocumentType   DocumentType      `json:"document_type"`
	PublishedDate  time.Time         `json:"published_date"`
	EffectiveDate  time.Time         `json:"effective_date"`
	SourceURL      string            `json:"source_url"`
	SourceMetadata map[string]string `json:"source_metadata,omitempty"`
	IngestedAt     time.Time         `json:"ingested_at"`
}

type NamedEntity struct {
	Text string `json:"text"`
	Type string `json:"type"`
	Span [2]int `json:"span"`
}

// EnrichedDocument owns one RawDocument's content plus everything the
// enrichment pipeline derived from it. Like RawDocument it is immutable;
// re-enrichment creates a new version linked to the same source id.
type EnrichedDocument struct {
	ID               string        `json:"id"`
	Raw              RawDocument   `json:"raw"`
	LegalDomain      LegalDomain   `json:"legal_domain"`
	DomainConfidence float64       `json:"domain_confidence"`
	NamedEntities    []NamedEntity `json:"named_entities,omitempty"`
	Summary          string        `json:"summary"`
	Keywords         []string      `json:"keywords"`
	ReadabilityScore float64       `json:"readability_score"`
	Warnings         []string      `json:"warnings,omitempty"`
	EnrichedAt       time.Time     `json:"enriched_at"`
}

// ChunkPayload is the denormalized, filterable metadata attached to every
// vector entry. Known fields are validated at the dual-store boundary;
// Extra carries source-specific values that are stored but never filtered on.
type ChunkPayload struct {
	Title         string            `json:"title"`
	SourceURL     string            `json:"source_url,omitempty"`
	LegalDomain   LegalDomain       `json:"legal_domain"`
	DocumentType  DocumentType      `json:"document_type"`
	EffectiveDate time.Time         `json:"effective_date"`
	IsCurrent     bool              `json:"is_current"`
	Keywords      []string          `json:"keywords,omitempty"`
	Hierarchy     string            `json:"hierarchy,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Chunk is the retrievable unit. It belongs to exactly one EnrichedDocument
// and dies with it when the document is superseded.
type Chunk struct {
	ID              string       `json:"id"`
	DocumentID      string       `json:"document_id"`
	Position        int          `json:"position"`
	Text            string       `json:"text"`
	Embedding       []float32    `json:"embedding,omitempty"`
	EmbeddingFailed bool         `json:"embedding_failed"`
	Payload         ChunkPayload `json:"payload"`
}

// Watermark records the last successfully ingested position per upstream
// source so re-imports resume instead of restarting.
type Watermark struct {
	Source    string    `json:"source"`
	LastID    string    `json:"last_id"`
	LastDate  time.Time `json:"last_date"`
	LastPage  int       `json:"last_page"`
	UpdatedAt time.Time `json:"updated_at"`
}
