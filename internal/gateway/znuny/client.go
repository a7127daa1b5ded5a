package znuny

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spec-kit/triage-service/internal/config"
	"github.com/spec-kit/triage-service/internal/domain"
	"github.com/spec-kit/triage-service/pkg/util/agentutil"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

const (
	upstreamName       = "znuny"
	articleContentType = "text/plain; charset=utf8"
	sessionKeyPrefix   = "znuny:session:"
)

// errAuthFailed marks a rejected or expired session.
var errAuthFailed = errors.New("znuny rejected the session")

// Client talks to the Znuny GenericInterface REST webservice.
type Client struct {
	baseURL       string
	username      string
	password      string
	staticSession string
	timeout       time.Duration
	sessionTTL    time.Duration
	sessions      SessionStore
	flight        singleflight.Group
	logger        *zap.Logger
}

// NewClient builds a ticketing gateway. A nil store keeps sessions in process.
func NewClient(cfg config.ZnunyConfig, sessions SessionStore, logger *zap.Logger) *Client {
	if sessions == nil {
		sessions = NewMemorySessionStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		username:      cfg.Username,
		password:      cfg.Password,
		staticSession: cfg.SessionID,
		timeout:       cfg.Timeout(),
		sessionTTL:    cfg.SessionTTL(),
		sessions:      sessions,
		logger:        logger.Named("znuny"),
	}
}

// Fetch returns a snapshot of the ticket including every article.
func (c *Client) Fetch(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	var ticket *domain.Ticket
	err := c.withSession(ctx, func(sessionID string) error {
		t, err := c.getTicket(ctx, sessionID, ticketID)
		ticket = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// Update writes the given fields back. Fields already matching the ticket are dropped,
// and an article whose subject and body already exist is not appended again.
func (c *Client) Update(ctx context.Context, ticketID string, update domain.TicketUpdate) error {
	if update.Empty() {
		return nil
	}
	return c.withSession(ctx, func(sessionID string) error {
		current, err := c.getTicket(ctx, sessionID, ticketID)
		if err != nil {
			return err
		}
		req := buildUpdate(sessionID, current, update)
		if req == nil {
			c.logger.Debug("ticket already up to date", zap.String("ticket_id", ticketID))
			return nil
		}
		return c.patchTicket(ctx, ticketID, req)
	})
}

func buildUpdate(sessionID string, current *domain.Ticket, update domain.TicketUpdate) *ticketUpdateRequest {
	fields := map[string]any{}
	if update.Subject != nil && *update.Subject != current.Subject {
		fields["Title"] = *update.Subject
	}
	if update.Priority != nil && update.Priority.Valid() && *update.Priority != current.Priority {
		fields["PriorityID"] = int(*update.Priority)
	}
	if update.Type != nil && update.Type.TypeID() > 0 && *update.Type != current.Type {
		fields["TypeID"] = update.Type.TypeID()
	}

	var article *articleRequest
	if update.Article != nil && !current.HasArticle(update.Article.Subject, update.Article.Body) {
		article = &articleRequest{
			Subject:     update.Article.Subject,
			Body:        update.Article.Body,
			ContentType: articleContentType,
		}
	}

	if len(fields) == 0 && article == nil {
		return nil
	}
	req := &ticketUpdateRequest{SessionID: sessionID, TicketID: current.ID, Article: article}
	if len(fields) > 0 {
		req.Ticket = fields
	}
	return req
}

// withSession runs fn with a valid session, logging in again once when Znuny rejects it.
func (c *Client) withSession(ctx context.Context, fn func(sessionID string) error) error {
	sessionID, err := c.session(ctx)
	if err != nil {
		return err
	}
	err = fn(sessionID)
	if !errors.Is(err, errAuthFailed) {
		return err
	}
	if c.staticSession != "" {
		return apperrors.NewUpstreamUnavailable(upstreamName, err)
	}

	c.logger.Info("session rejected; logging in again")
	c.invalidate(ctx, sessionID)
	if sessionID, err = c.session(ctx); err != nil {
		return err
	}
	if err = fn(sessionID); errors.Is(err, errAuthFailed) {
		return apperrors.NewUpstreamUnavailable(upstreamName, err)
	}
	return err
}

func (c *Client) sessionKey() string {
	return sessionKeyPrefix + c.username
}

func (c *Client) session(ctx context.Context) (string, error) {
	if c.staticSession != "" {
		return c.staticSession, nil
	}
	if id, ok := c.cachedSession(ctx); ok {
		return id, nil
	}

	v, err, _ := c.flight.Do(c.sessionKey(), func() (any, error) {
		if id, ok := c.cachedSession(ctx); ok {
			return id, nil
		}
		id, err := c.login(ctx)
		if err != nil {
			return "", err
		}
		if err := c.sessions.Set(ctx, c.sessionKey(), id, c.sessionTTL); err != nil {
			c.logger.Warn("unable to cache session", zap.Error(err))
		}
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) cachedSession(ctx context.Context) (string, bool) {
	id, ok, err := c.sessions.Get(ctx, c.sessionKey())
	if err != nil {
		c.logger.Warn("session cache unavailable", zap.Error(err))
		return "", false
	}
	return id, ok && id != ""
}

// invalidate drops the cached session unless another caller already replaced it.
func (c *Client) invalidate(ctx context.Context, stale string) {
	if id, ok := c.cachedSession(ctx); ok && id != stale {
		return
	}
	if err := c.sessions.Delete(ctx, c.sessionKey()); err != nil {
		c.logger.Warn("unable to drop cached session", zap.Error(err))
	}
}

func (c *Client) login(ctx context.Context) (string, error) {
	if c.username == "" || c.password == "" {
		return "", apperrors.NewUpstreamUnavailable(upstreamName, errors.New("no session id or credentials configured"))
	}

	agent := fiber.Patch(c.baseURL + "/Session").
		JSON(sessionRequest{UserLogin: c.username, Password: c.password})
	code, body, err := agentutil.Send(ctx, agent, c.timeout)
	if err != nil {
		return "", apperrors.NewUpstreamUnavailable(upstreamName, fmt.Errorf("create session: %w", err))
	}
	if code < 200 || code >= 300 {
		return "", apperrors.NewUpstreamUnavailable(upstreamName, fmt.Errorf("create session: status %d", code))
	}

	var resp sessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", apperrors.NewUpstreamUnavailable(upstreamName, fmt.Errorf("decode session: %w", err))
	}
	if resp.Error != nil {
		return "", apperrors.NewUpstreamUnavailable(upstreamName,
			fmt.Errorf("create session: %s: %s", resp.Error.ErrorCode, resp.Error.ErrorMessage))
	}
	if resp.SessionID == "" {
		return "", apperrors.NewUpstreamUnavailable(upstreamName, errors.New("create session: empty SessionID"))
	}
	c.logger.Info("session created", zap.String("user", c.username))
	return resp.SessionID, nil
}

func (c *Client) getTicket(ctx context.Context, sessionID, ticketID string) (*domain.Ticket, error) {
	query := url.Values{"SessionID": {sessionID}, "AllArticles": {"1"}}
	endpoint := fmt.Sprintf("%s/Ticket/%s?%s", c.baseURL, url.PathEscape(ticketID), query.Encode())

	agent := fiber.Get(endpoint).Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	code, body, err := agentutil.Send(ctx, agent, c.timeout)
	if err != nil {
		return nil, apperrors.NewUpstreamUnavailable(upstreamName, fmt.Errorf("get ticket %s: %w", ticketID, err))
	}
	if err := classifyStatus(code, ticketID); err != nil {
		return nil, err
	}

	var resp ticketGetResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperrors.NewUpstreamUnavailable(upstreamName, fmt.Errorf("decode ticket %s: %w", ticketID, err))
	}
	if resp.Error != nil {
		return nil, classifyAPIError(resp.Error, ticketID)
	}
	payload, err := resp.first()
	if err != nil {
		return nil, apperrors.NewUpstreamUnavailable(upstreamName, fmt.Errorf("decode ticket %s: %w", ticketID, err))
	}
	if payload == nil {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	ticket := payload.toDomain()
	if ticket.ID == "" {
		ticket.ID = ticketID
	}
	return ticket, nil
}

func (c *Client) patchTicket(ctx context.Context, ticketID string, req *ticketUpdateRequest) error {
	endpoint := fmt.Sprintf("%s/Ticket/%s", c.baseURL, url.PathEscape(ticketID))
	code, body, err := agentutil.Send(ctx, fiber.Patch(endpoint).JSON(req), c.timeout)
	if err != nil {
		return apperrors.NewUpstreamUnavailable(upstreamName, fmt.Errorf("update ticket %s: %w", ticketID, err))
	}
	if err := classifyStatus(code, ticketID); err != nil {
		return err
	}

	var resp ticketUpdateResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return apperrors.NewUpstreamUnavailable(upstreamName, fmt.Errorf("decode update %s: %w", ticketID, err))
		}
	}
	if resp.Error != nil {
		return classifyAPIError(resp.Error, ticketID)
	}
	c.logger.Debug("ticket updated",
		zap.String("ticket_id", ticketID),
		zap.Bool("article", req.Article != nil),
		zap.Int("fields", len(req.Ticket)),
		zap.String("article_id", string(resp.ArticleID)))
	return nil
}

func classifyStatus(code int, ticketID string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == fiber.StatusUnauthorized || code == fiber.StatusForbidden:
		return fmt.Errorf("%w: status %d", errAuthFailed, code)
	case code == fiber.StatusNotFound:
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	case code == fiber.StatusConflict || code == fiber.StatusLocked:
		return apperrors.NewConflict("ticket modified concurrently", map[string]any{"ticket_id": ticketID})
	default:
		return apperrors.NewUpstreamUnavailable(upstreamName, fmt.Errorf("ticket %s: status %d", ticketID, code))
	}
}

// classifyAPIError maps GenericInterface error codes such as "TicketGet.AuthFail".
func classifyAPIError(apiErr *apiError, ticketID string) error {
	code := apiErr.ErrorCode
	detail := fmt.Errorf("%s: %s", code, apiErr.ErrorMessage)
	switch {
	case strings.Contains(code, "AuthFail") || strings.Contains(code, "SessionID"):
		return fmt.Errorf("%w: %v", errAuthFailed, detail)
	case strings.Contains(code, "NotFound") || strings.Contains(code, "AccessDenied"):
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID, "reason": detail.Error()})
	case strings.Contains(code, "Lock") || strings.Contains(code, "Conflict"):
		return apperrors.NewConflict("ticket modified concurrently", map[string]any{"ticket_id": ticketID, "reason": detail.Error()})
	default:
		return apperrors.NewUpstreamUnavailable(upstreamName, detail)
	}
}
