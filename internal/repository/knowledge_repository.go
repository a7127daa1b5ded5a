package repository

import (
	"context"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/triage-service/internal/domain"
)

const maxSearchTerms = 12

// KnowledgeRepository stores reference cases searched as diagnosis context.
type KnowledgeRepository interface {
	Search(ctx context.Context, text string, limit int) ([]domain.KnowledgeArticle, error)
	Upsert(ctx context.Context, article *domain.KnowledgeArticle) error
}

type knowledgeRepository struct {
	pool *pgxpool.Pool
}

// NewKnowledgeRepository instantiates repository.
func NewKnowledgeRepository(pool *pgxpool.Pool) KnowledgeRepository {
	return &knowledgeRepository{pool: pool}
}

func (r *knowledgeRepository) Search(ctx context.Context, text string, limit int) ([]domain.KnowledgeArticle, error) {
	tsquery := searchQuery(text)
	if tsquery == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}
	const query = `
        SELECT id, source_ref, title, content, tags, created_at, updated_at
        FROM knowledge_articles
        WHERE search_vector @@ to_tsquery('simple', $1)
        ORDER BY ts_rank(search_vector, to_tsquery('simple', $1)) DESC, updated_at DESC
        LIMIT $2`
	rows, err := r.pool.Query(ctx, query, tsquery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.KnowledgeArticle
	for rows.Next() {
		var article domain.KnowledgeArticle
		if err := rows.Scan(
			&article.ID,
			&article.SourceRef,
			&article.Title,
			&article.Content,
			&article.Tags,
			&article.CreatedAt,
			&article.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, article)
	}
	return result, rows.Err()
}

func (r *knowledgeRepository) Upsert(ctx context.Context, article *domain.KnowledgeArticle) error {
	const query = `
        INSERT INTO knowledge_articles (source_ref, title, content, tags)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (source_ref) DO UPDATE SET title=EXCLUDED.title, content=EXCLUDED.content,
            tags=EXCLUDED.tags, updated_at=NOW()
        RETURNING id, created_at, updated_at`
	tags := article.Tags
	if tags == nil {
		tags = []string{}
	}
	return r.pool.QueryRow(ctx, query,
		article.SourceRef,
		article.Title,
		article.Content,
		tags,
	).Scan(&article.ID, &article.CreatedAt, &article.UpdatedAt)
}

var stopWords = map[string]struct{}{
	"subject": {}, "body": {}, "that": {}, "this": {}, "with": {}, "from": {}, "have": {},
	"when": {}, "there": {}, "para": {}, "como": {}, "pero": {}, "esta": {}, "este": {},
	"desde": {}, "sobre": {}, "please": {}, "hello": {}, "thanks": {}, "gracias": {},
}

// searchQuery turns free ticket text into an OR'ed tsquery of its distinct keywords.
func searchQuery(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, maxSearchTerms)
	for _, field := range fields {
		if len([]rune(field)) < 4 {
			continue
		}
		if _, skip := stopWords[field]; skip {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		terms = append(terms, field)
		if len(terms) == maxSearchTerms {
			break
		}
	}
	return strings.Join(terms, " | ")
}
