package logmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/triage-service/internal/config"
	"github.com/spec-kit/triage-service/internal/domain"
	"github.com/spec-kit/triage-service/pkg/util/agentutil"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

const upstreamName = "log-monitor"

type analyzeRequest struct {
	TicketID         string `json:"ticket_id"`
	TicketNumber     string `json:"ticket_number,omitempty"`
	Title            string `json:"title"`
	TicketText       string `json:"ticket_text"`
	Entity           string `json:"entity"`
	InitialDiagnosis string `json:"diagnostico_inicial,omitempty"`
}

type analyzeResponse struct {
	LogsFound   *int        `json:"logs_encontrados"`
	Diagnostics []diagEntry `json:"diagnosticos"`
	Summary     string      `json:"mensaje_resumen"`
}

type diagEntry struct {
	Log struct {
		Message string `json:"mensaje"`
	} `json:"log"`
	Diagnosis struct {
		ErrorType      string `json:"tipo_error"`
		Severity       string `json:"severidad"`
		Summary        string `json:"resumen"`
		Recommendation string `json:"recomendacion"`
	} `json:"diagnostico"`
}

// Client calls the log-monitoring service's incident analysis endpoint.
type Client struct {
	endpoint string
	timeout  time.Duration
	logger   *zap.Logger
}

func NewClient(cfg config.AnalysisConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := ""
	if base := strings.TrimRight(cfg.LogMonitorURL, "/"); base != "" {
		endpoint = base + "/analyze-incident"
	}
	return &Client{endpoint: endpoint, timeout: cfg.Timeout(), logger: logger.Named("logmonitor")}
}

// Analyze submits the incident and waits for the report. Transport failures, timeouts,
// throttling and 5xx answers are UpstreamUnavailable; anything unparseable is
// MalformedResponse.
func (c *Client) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisReport, error) {
	if c.endpoint == "" {
		return nil, apperrors.NewUpstreamUnavailable(upstreamName, errors.New("LOG_MONITOR_URL not configured"))
	}

	payload := analyzeRequest{
		TicketID:         req.TicketID,
		TicketNumber:     req.TicketNumber,
		Title:            req.Title,
		TicketText:       req.TicketText,
		Entity:           req.Entity,
		InitialDiagnosis: req.InitialDiagnosis,
	}
	c.logger.Info("requesting incident analysis",
		zap.String("ticket_id", req.TicketID),
		zap.String("entity", req.Entity))

	agent := fiber.Post(c.endpoint).JSON(payload).Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	code, body, err := agentutil.Send(ctx, agent, c.timeout)
	if err != nil {
		return nil, apperrors.NewUpstreamUnavailable(upstreamName, err)
	}
	if agentutil.Retryable(code) {
		return nil, apperrors.NewUpstreamUnavailable(upstreamName, fmt.Errorf("status %d", code))
	}
	if code < 200 || code >= 300 {
		return nil, apperrors.NewMalformedResponse(upstreamName, fmt.Sprintf("request rejected with status %d", code), nil)
	}

	var resp analyzeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.NewMalformedResponse(upstreamName, "invalid JSON", err)
	}
	if resp.LogsFound == nil {
		return nil, apperrors.NewMalformedResponse(upstreamName, "missing logs_encontrados", nil)
	}

	report := &domain.AnalysisReport{LogsFound: *resp.LogsFound, Summary: strings.TrimSpace(resp.Summary)}
	for _, entry := range resp.Diagnostics {
		report.Findings = append(report.Findings, domain.AnalysisFinding{
			Message:        entry.Log.Message,
			ErrorType:      entry.Diagnosis.ErrorType,
			Severity:       entry.Diagnosis.Severity,
			Summary:        entry.Diagnosis.Summary,
			Recommendation: entry.Diagnosis.Recommendation,
		})
	}
	c.logger.Info("incident analysis received",
		zap.String("ticket_id", req.TicketID),
		zap.Int("logs_found", report.LogsFound),
		zap.Int("findings", len(report.Findings)))
	return report, nil
}
