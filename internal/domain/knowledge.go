package domain

import "time"

// KnowledgeArticle is a reference case used as context for diagnoses.
type KnowledgeArticle struct {
	ID        string
	SourceRef string
	Title     string
	Content   string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}
