package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ESCALATION_THRESHOLD", "")
	t.Setenv("DELEGATION_WORKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Escalation.Threshold)
	assert.True(t, cfg.Escalation.RaisePriority)
	assert.Equal(t, 4, cfg.Delegation.Workers)
	assert.Equal(t, 2, cfg.Delegation.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Delegation.Backoff())
	assert.Equal(t, 3300*time.Second, cfg.Znuny.SessionTTL())
	assert.Equal(t, 25*time.Second, cfg.App.RequestTimeout())
	assert.Equal(t, 10*time.Second, cfg.Diagnosis.Timeout())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ESCALATION_THRESHOLD", "8")
	t.Setenv("DELEGATION_WORKERS", "6")
	t.Setenv("DELEGATION_BACKOFF_MS", "250")
	t.Setenv("ESCALATION_RAISE_PRIORITY", "false")
	t.Setenv("ZNUNY_BASE_API", "https://desk.example.com/otrs/nph-genericinterface.pl/Webservice/Triage")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Escalation.Threshold)
	assert.Equal(t, 6, cfg.Delegation.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Delegation.Backoff())
	assert.False(t, cfg.Escalation.RaisePriority)
	assert.Equal(t, "https://desk.example.com/otrs/nph-genericinterface.pl/Webservice/Triage", cfg.Znuny.BaseURL)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string][2]string{
		"threshold above range": {"ESCALATION_THRESHOLD", "11"},
		"threshold below range": {"ESCALATION_THRESHOLD", "0"},
		"no workers":            {"DELEGATION_WORKERS", "0"},
		"negative retries":      {"DELEGATION_MAX_RETRIES", "-1"},
		"priority out of range": {"ESCALATION_PRIORITY_ID", "9"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDiagnosisBudgetMustFitRequestTimeout(t *testing.T) {
	t.Setenv("HTTP_REQUEST_TIMEOUT_SECONDS", "25")
	t.Setenv("AI_MAX_ATTEMPTS", "2")

	t.Setenv("AI_TIMEOUT_SECONDS", "20")
	_, err := Load()
	assert.ErrorContains(t, err, "AI_MAX_ATTEMPTS")

	t.Setenv("AI_TIMEOUT_SECONDS", "12")
	_, err = Load()
	assert.NoError(t, err)
}

func TestBasicAuthCredentialsMustBePaired(t *testing.T) {
	t.Setenv("WEBHOOK_BASIC_USER", "znuny")
	t.Setenv("WEBHOOK_BASIC_PASSWORD_HASH", "")

	_, err := Load()
	assert.Error(t, err)
}
