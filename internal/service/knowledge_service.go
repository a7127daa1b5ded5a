package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/triage-service/internal/domain"
	"github.com/spec-kit/triage-service/internal/events"
	"github.com/spec-kit/triage-service/internal/repository"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

// KnowledgeService serves reference cases to the diagnosis gateway and indexes finished
// incident analyses so later tickets can reuse them.
type KnowledgeService struct {
	articles repository.KnowledgeRepository
	logger   *zap.Logger
}

func NewKnowledgeService(articles repository.KnowledgeRepository, logger *zap.Logger) *KnowledgeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeService{articles: articles, logger: logger.Named("knowledge")}
}

// Search returns up to limit articles related to the text.
func (k *KnowledgeService) Search(ctx context.Context, text string, limit int) ([]domain.KnowledgeArticle, error) {
	if strings.TrimSpace(text) == "" || limit <= 0 {
		return nil, nil
	}
	return k.articles.Search(ctx, text, limit)
}

// Import upserts articles keyed by SourceRef and returns how many were stored.
func (k *KnowledgeService) Import(ctx context.Context, articles []domain.KnowledgeArticle) (int, error) {
	stored := 0
	for i := range articles {
		article := articles[i]
		if strings.TrimSpace(article.SourceRef) == "" || strings.TrimSpace(article.Content) == "" {
			return stored, apperrors.NewValidationError("article requires source_ref and content",
				map[string]any{"index": i})
		}
		if strings.TrimSpace(article.Title) == "" {
			article.Title = article.SourceRef
		}
		if err := k.articles.Upsert(ctx, &article); err != nil {
			return stored, fmt.Errorf("upsert %s: %w", article.SourceRef, err)
		}
		stored++
	}
	return stored, nil
}

// RegisterHandlers subscribes to events.
func (k *KnowledgeService) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventDelegationCompleted, k.handleDelegationCompleted)
}

func (k *KnowledgeService) handleDelegationCompleted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.DelegationPayload)
	if !ok || payload.Report == nil || payload.Report.LogsFound == 0 {
		return nil
	}
	article := incidentArticle(payload.Task, payload.Report)
	if err := k.articles.Upsert(ctx, &article); err != nil {
		return fmt.Errorf("index incident %s: %w", payload.Task.TicketID, err)
	}
	k.logger.Info("incident indexed", zap.String("ticket_id", payload.Task.TicketID), zap.String("article_id", article.ID))
	return nil
}

func incidentArticle(task domain.DelegationTask, report *domain.AnalysisReport) domain.KnowledgeArticle {
	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s\nInitial diagnosis: %s\n", task.Entity, task.InitialDiagnosis)
	for _, f := range report.Findings {
		fmt.Fprintf(&b, "- %s (%s): %s Recommendation: %s\n", orNA(f.ErrorType, "Unknown"), orNA(f.Severity, "N/A"), f.Summary, f.Recommendation)
	}
	if report.Summary != "" {
		b.WriteString("Resolution summary: ")
		b.WriteString(report.Summary)
	}
	tags := []string{"incident"}
	if task.Entity != "" {
		tags = append(tags, strings.ToLower(task.Entity))
	}
	title := task.Subject
	if strings.TrimSpace(title) == "" {
		title = "Incident " + orNA(task.TicketNumber, task.TicketID)
	}
	return domain.KnowledgeArticle{
		SourceRef: "ticket:" + task.TicketID,
		Title:     title,
		Content:   b.String(),
		Tags:      tags,
	}
}
