package chunking

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/bchauvel/lexia/internal/core/domain"
)

// Headings that open a structural unit in French legal texts.
var articleHeading = regexp.MustCompile(`(?m)^(?:Article\s+(?:[LRD]\.?\s*)?[\d][\w.-]*|TITRE\s+[IVXLC]+|Chapitre\s+[IVXLC]+|Section\s+\d+)\s*:?`)

// Splitter cuts an enriched document into retrievable chunks. Texts with
// article headings split on them; anything else falls back to a fixed
// character window with overlap so no text is lost.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(doc domain.EnrichedDocument) []domain.Chunk {
	payload := domain.ChunkPayload{
		Title:         doc.Raw.Title,
		SourceURL:     doc.Raw.SourceURL,
		LegalDomain:   doc.LegalDomain,
		DocumentType:  doc.Raw.DocumentType,
		EffectiveDate: doc.Raw.EffectiveDate,
		IsCurrent:     true,
		Keywords:      doc.Keywords,
	}

	sections := s.structuralSections(doc.Raw.RawText)
	var chunks []domain.Chunk
	for _, sec := range sections {
		for _, text := range s.window(sec.text) {
			p := payload
			p.Hierarchy = sec.heading
			chunks = append(chunks, domain.Chunk{
				ID:         uuid.NewString(),
				DocumentID: doc.ID,
				Position:   len(chunks),
				Text:       text,
				Payload:    p,
			})
		}
	}
	return chunks
}

type section struct {
	heading string
	text    string
}

// structuralSections splits on article/title headings when the text has at
// least two of them; otherwise the whole text is a single section.
func (s *Splitter) structuralSections(text string) []section {
	locs := articleHeading.FindAllStringIndex(text, -1)
	if len(locs) < 2 {
		return []section{{text: text}}
	}

	var out []section
	if lead := strings.TrimSpace(text[:locs[0][0]]); lead != "" {
		out = append(out, section{text: lead})
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[0]:end])
		if body == "" {
			continue
		}
		heading := strings.TrimSpace(strings.TrimSuffix(text[loc[0]:loc[1]], ":"))
		out = append(out, section{heading: heading, text: body})
	}
	return out
}

func (s *Splitter) window(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= s.ChunkSize {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}
