package znuny

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/triage-service/internal/config"
	"github.com/spec-kit/triage-service/internal/domain"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

type fakeArticle struct {
	Subject string `json:"Subject"`
	Body    string `json:"Body"`
}

type fakeTicket struct {
	Title      string
	PriorityID int
	TypeID     int
	Articles   []fakeArticle
}

// fakeZnuny emulates the GenericInterface endpoints the client uses.
type fakeZnuny struct {
	mu       sync.Mutex
	logins   int
	patches  []ticketUpdateRequest
	valid    map[string]bool
	tickets  map[string]*fakeTicket
	lockNext bool
}

func newFakeZnuny() *fakeZnuny {
	return &fakeZnuny{valid: map[string]bool{}, tickets: map[string]*fakeTicket{}}
}

func (f *fakeZnuny) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /Session", func(w http.ResponseWriter, r *http.Request) {
		var req sessionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		if req.UserLogin != "agent" || req.Password != "secret" {
			writeJSON(w, map[string]any{"Error": map[string]string{"ErrorCode": "SessionCreate.AuthFail"}})
			return
		}
		f.logins++
		id := fmt.Sprintf("sess-%d", f.logins)
		f.valid[id] = true
		writeJSON(w, map[string]any{"SessionID": id})
	})
	mux.HandleFunc("GET /Ticket/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.valid[r.URL.Query().Get("SessionID")] {
			writeJSON(w, map[string]any{"Error": map[string]string{"ErrorCode": "TicketGet.AuthFail"}})
			return
		}
		id := r.PathValue("id")
		t, ok := f.tickets[id]
		if !ok {
			writeJSON(w, map[string]any{"Error": map[string]string{"ErrorCode": "TicketGet.AccessDenied"}})
			return
		}
		articles := make([]map[string]any, 0, len(t.Articles))
		for i, a := range t.Articles {
			articles = append(articles, map[string]any{"ArticleID": i + 1, "Subject": a.Subject, "Body": a.Body})
		}
		writeJSON(w, map[string]any{"Ticket": []map[string]any{{
			"TicketID":     json.Number(id),
			"TicketNumber": "2024" + id,
			"Title":        t.Title,
			"PriorityID":   t.PriorityID,
			"TypeID":       fmt.Sprint(t.TypeID),
			"CustomerID":   "ACME",
			"Article":      articles,
		}}})
	})
	mux.HandleFunc("PATCH /Ticket/{id}", func(w http.ResponseWriter, r *http.Request) {
		var req ticketUpdateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.lockNext {
			f.lockNext = false
			writeJSON(w, map[string]any{"Error": map[string]string{"ErrorCode": "TicketUpdate.TicketLockFailed"}})
			return
		}
		f.patches = append(f.patches, req)
		t := f.tickets[r.PathValue("id")]
		if title, ok := req.Ticket["Title"].(string); ok {
			t.Title = title
		}
		if prio, ok := req.Ticket["PriorityID"].(float64); ok {
			t.PriorityID = int(prio)
		}
		if typ, ok := req.Ticket["TypeID"].(float64); ok {
			t.TypeID = int(typ)
		}
		if req.Article != nil {
			t.Articles = append(t.Articles, fakeArticle{Subject: req.Article.Subject, Body: req.Article.Body})
		}
		writeJSON(w, map[string]any{"TicketID": r.PathValue("id"), "ArticleID": 99})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeZnuny) patchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.patches)
}

func (f *fakeZnuny) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeZnuny) articleCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickets[id].Articles)
}

func newTestClient(t *testing.T, fake *fakeZnuny, mutate func(*config.ZnunyConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	cfg := config.ZnunyConfig{
		BaseURL:           srv.URL + "/",
		Username:          "agent",
		Password:          "secret",
		SessionTTLSeconds: 60,
		TimeoutSeconds:    2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(cfg, NewMemorySessionStore(), nil)
}

func seedTicket(fake *fakeZnuny) {
	fake.tickets["42"] = &fakeTicket{
		Title:      "VPN down",
		PriorityID: 3,
		TypeID:     10,
		Articles:   []fakeArticle{{Subject: "VPN down", Body: "Nobody can connect since 9am"}},
	}
}

func TestFetchMapsTicketAndFirstArticle(t *testing.T) {
	fake := newFakeZnuny()
	seedTicket(fake)
	client := newTestClient(t, fake, nil)

	ticket, err := client.Fetch(context.Background(), "42")

	require.NoError(t, err)
	assert.Equal(t, "42", ticket.ID)
	assert.Equal(t, "202442", ticket.Number)
	assert.Equal(t, "VPN down", ticket.Subject)
	assert.Equal(t, "Nobody can connect since 9am", ticket.Body)
	assert.Equal(t, domain.TicketTypeIncident, ticket.Type)
	assert.Equal(t, domain.TicketPriorityNormal, ticket.Priority)
	assert.Equal(t, "ACME", ticket.CustomerID)
	assert.Len(t, ticket.Articles, 1)
}

func TestFetchReusesCachedSession(t *testing.T) {
	fake := newFakeZnuny()
	seedTicket(fake)
	client := newTestClient(t, fake, nil)

	for i := 0; i < 3; i++ {
		_, err := client.Fetch(context.Background(), "42")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fake.loginCount())
}

func TestFetchLogsInAgainWhenSessionExpires(t *testing.T) {
	fake := newFakeZnuny()
	seedTicket(fake)
	client := newTestClient(t, fake, nil)

	_, err := client.Fetch(context.Background(), "42")
	require.NoError(t, err)

	fake.mu.Lock()
	fake.valid = map[string]bool{}
	fake.mu.Unlock()

	_, err = client.Fetch(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.loginCount())
}

func TestConcurrentFetchesShareOneLogin(t *testing.T) {
	fake := newFakeZnuny()
	seedTicket(fake)
	client := newTestClient(t, fake, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Fetch(context.Background(), "42")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, fake.loginCount(), 2)
}

func TestStaticSessionSkipsLogin(t *testing.T) {
	fake := newFakeZnuny()
	seedTicket(fake)
	fake.valid["static-id"] = true
	client := newTestClient(t, fake, func(cfg *config.ZnunyConfig) { cfg.SessionID = "static-id" })

	_, err := client.Fetch(context.Background(), "42")
	require.NoError(t, err)
	assert.Zero(t, fake.loginCount())
}

func TestFetchUnknownTicketIsNotFound(t *testing.T) {
	fake := newFakeZnuny()
	client := newTestClient(t, fake, nil)

	_, err := client.Fetch(context.Background(), "404")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFetchUnreachableIsUpstreamUnavailable(t *testing.T) {
	client := NewClient(config.ZnunyConfig{
		BaseURL:        "http://127.0.0.1:1",
		SessionID:      "static",
		TimeoutSeconds: 1,
	}, nil, nil)

	_, err := client.Fetch(context.Background(), "42")

	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
}

func TestFetchWithBadCredentialsIsUpstreamUnavailable(t *testing.T) {
	fake := newFakeZnuny()
	client := newTestClient(t, fake, func(cfg *config.ZnunyConfig) { cfg.Password = "wrong" })

	_, err := client.Fetch(context.Background(), "42")

	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
}

func TestUpdateNeverAppendsIdenticalArticleTwice(t *testing.T) {
	fake := newFakeZnuny()
	seedTicket(fake)
	client := newTestClient(t, fake, nil)
	update := domain.TicketUpdate{Article: &domain.Article{Subject: "Diagnosis", Body: "Restart the VPN gateway"}}

	require.NoError(t, client.Update(context.Background(), "42", update))
	require.NoError(t, client.Update(context.Background(), "42", update))

	assert.Equal(t, 1, fake.patchCount())
	assert.Equal(t, 2, fake.articleCount("42"))
}

func TestUpdateSkipsUnchangedFields(t *testing.T) {
	fake := newFakeZnuny()
	seedTicket(fake)
	client := newTestClient(t, fake, nil)

	subject := "VPN down"
	priority := domain.TicketPriorityNormal
	ticketType := domain.TicketTypeIncident
	err := client.Update(context.Background(), "42", domain.TicketUpdate{
		Subject:  &subject,
		Priority: &priority,
		Type:     &ticketType,
	})

	require.NoError(t, err)
	assert.Zero(t, fake.patchCount())
}

func TestUpdateWritesOnlyChangedFields(t *testing.T) {
	fake := newFakeZnuny()
	seedTicket(fake)
	client := newTestClient(t, fake, nil)

	subject := "[CRITICAL] VPN down"
	priority := domain.TicketPriorityVeryHigh
	ticketType := domain.TicketTypeIncident
	err := client.Update(context.Background(), "42", domain.TicketUpdate{
		Subject:  &subject,
		Priority: &priority,
		Type:     &ticketType,
	})

	require.NoError(t, err)
	require.Equal(t, 1, fake.patchCount())
	fake.mu.Lock()
	patch := fake.patches[0]
	fake.mu.Unlock()
	assert.Equal(t, "42", patch.TicketID)
	assert.Equal(t, subject, patch.Ticket["Title"])
	assert.EqualValues(t, 5, patch.Ticket["PriorityID"])
	assert.NotContains(t, patch.Ticket, "TypeID")
	assert.Nil(t, patch.Article)
}

func TestUpdateLockFailureIsConflict(t *testing.T) {
	fake := newFakeZnuny()
	seedTicket(fake)
	fake.lockNext = true
	client := newTestClient(t, fake, nil)

	err := client.Update(context.Background(), "42", domain.TicketUpdate{
		Article: &domain.Article{Subject: "s", Body: "b"},
	})

	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestMemorySessionStoreExpires(t *testing.T) {
	store := NewMemorySessionStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	id, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", id)

	now = now.Add(2 * time.Minute)
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTicketPayloadAcceptsSingleObject(t *testing.T) {
	var resp ticketGetResponse
	require.NoError(t, json.Unmarshal([]byte(`{"Ticket":{"TicketID":7,"Title":"t","Priority":"4 high","Type":"Petición"}}`), &resp))

	payload, err := resp.first()
	require.NoError(t, err)
	ticket := payload.toDomain()
	assert.Equal(t, "7", ticket.ID)
	assert.Equal(t, domain.TicketPriorityHigh, ticket.Priority)
	assert.Equal(t, domain.TicketTypeServiceRequest, ticket.Type)
}
