package aiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/triage-service/internal/config"
	"github.com/spec-kit/triage-service/internal/domain"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

const upstreamName = "diagnosis-backend"

// KnowledgeRetriever supplies reference cases for a ticket.
type KnowledgeRetriever interface {
	Search(ctx context.Context, text string, limit int) ([]domain.KnowledgeArticle, error)
}

type diagnosisPayload struct {
	Type           string      `json:"type"`
	TypeID         json.Number `json:"type_id"`
	Classification string      `json:"classification"`
	Answer         string      `json:"answer"`
	Criticality    json.Number `json:"criticality"`
	SecurityAlert  bool        `json:"security_alert"`
	AffectedEntity string      `json:"affected_entity"`
}

// Client obtains diagnoses from an OpenAI-compatible chat completion endpoint.
type Client struct {
	api         *openai.Client
	model       string
	timeout     time.Duration
	maxAttempts int
	retryDelay  time.Duration
	limiter     *rate.Limiter
	kb          KnowledgeRetriever
	kbLimit     int
	logger      *zap.Logger
}

// NewClient builds the gateway. kb may be nil.
func NewClient(cfg config.DiagnosisConfig, kb KnowledgeRetriever, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.RequestsPerMinute / 6
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       cfg.Model,
		timeout:     cfg.Timeout(),
		maxAttempts: attempts,
		retryDelay:  500 * time.Millisecond,
		limiter:     limiter,
		kb:          kb,
		kbLimit:     cfg.KnowledgeLimit,
		logger:      logger.Named("aiclient"),
	}
}

// Diagnose classifies the ticket. Transient backend failures are retried up to the
// configured attempts; out-of-range or unparseable answers fail with MalformedResponse.
func (c *Client) Diagnose(ctx context.Context, ticket *domain.Ticket) (domain.Diagnosis, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(ticket, c.references(ctx, ticket))},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.1,
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		content, retry, err := c.complete(ctx, req)
		if err == nil {
			return parseDiagnosis(ticket.ID, content)
		}
		lastErr = err
		if !retry || attempt == c.maxAttempts {
			break
		}
		c.logger.Warn("diagnosis attempt failed",
			zap.String("ticket_id", ticket.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return domain.Diagnosis{}, apperrors.NewUpstreamUnavailable(upstreamName, ctx.Err())
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		}
	}
	return domain.Diagnosis{}, lastErr
}

func (c *Client) references(ctx context.Context, ticket *domain.Ticket) []domain.KnowledgeArticle {
	if c.kb == nil || c.kbLimit <= 0 {
		return nil
	}
	refs, err := c.kb.Search(ctx, ticket.Subject+" "+ticket.Body, c.kbLimit)
	if err != nil {
		c.logger.Warn("knowledge base lookup failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return nil
	}
	return refs
}

func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (content string, retry bool, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", false, apperrors.NewUpstreamUnavailable(upstreamName, fmt.Errorf("rate limiter: %w", err))
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		retry, wrapped := classifyCallError(err)
		return "", retry, wrapped
	}
	if len(resp.Choices) == 0 {
		return "", false, apperrors.NewMalformedResponse(upstreamName, "no choices returned", nil)
	}
	return resp.Choices[0].Message.Content, false, nil
}

// classifyCallError wraps a failed call as UpstreamUnavailable and reports whether another
// attempt could succeed. Client errors such as a rejected key are permanent.
func classifyCallError(err error) (bool, error) {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	retry := status == 0 || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	return retry, apperrors.NewUpstreamUnavailable(upstreamName, err)
}

func parseDiagnosis(ticketID, content string) (domain.Diagnosis, error) {
	var payload diagnosisPayload
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &payload); err != nil {
		return domain.Diagnosis{}, apperrors.NewMalformedResponse(upstreamName, "answer is not a JSON object", err)
	}

	score, err := parseScore(payload.Criticality)
	if err != nil {
		return domain.Diagnosis{}, apperrors.NewMalformedResponse(upstreamName, "criticality is not an integer", err)
	}

	ticketType := domain.ParseTicketType(payload.Type)
	if ticketType == domain.TicketTypeUnclassified && payload.TypeID != "" {
		if id, err := strconv.Atoi(payload.TypeID.String()); err == nil {
			ticketType = domain.TicketTypeFromID(id)
		}
	}

	diagnosis, err := domain.NewDiagnosis(domain.DiagnosisInput{
		TicketID:       ticketID,
		Type:           ticketType,
		Classification: payload.Classification,
		Answer:         payload.Answer,
		Criticality:    score,
		SecurityAlert:  payload.SecurityAlert,
		AffectedEntity: payload.AffectedEntity,
	})
	if err != nil {
		return domain.Diagnosis{}, apperrors.NewMalformedResponse(upstreamName, err.Error(), err)
	}
	return diagnosis, nil
}

func parseScore(raw json.Number) (int, error) {
	if raw == "" {
		return 0, errors.New("criticality missing")
	}
	if n, err := raw.Int64(); err == nil {
		return int(n), nil
	}
	f, err := raw.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("criticality %v is fractional", f)
	}
	return int(f), nil
}
