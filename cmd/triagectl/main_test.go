package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/triage-service/internal/auth"
)

func TestHashPasswordCommand(t *testing.T) {
	var out bytes.Buffer
	hashPasswordCmd.SetIn(strings.NewReader("correct horse battery\n"))
	hashPasswordCmd.SetOut(&out)
	hashPasswordFlags.cost = 4

	require.NoError(t, runHashPassword(hashPasswordCmd, nil))

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, auth.ComparePassword(hash, "correct horse battery"))
}

func TestHashPasswordRejectsShortPassword(t *testing.T) {
	hashPasswordCmd.SetIn(strings.NewReader("short\n"))
	hashPasswordCmd.SetOut(&bytes.Buffer{})

	assert.Error(t, runHashPassword(hashPasswordCmd, nil))
}

func TestParseScopes(t *testing.T) {
	scopes, err := parseScopes([]string{"webhook", " OPS "})
	require.NoError(t, err)
	assert.Equal(t, []auth.Scope{auth.ScopeWebhook, auth.ScopeOps}, scopes)

	_, err = parseScopes([]string{"admin"})
	assert.Error(t, err)
	_, err = parseScopes(nil)
	assert.Error(t, err)
}

func TestReadKBFile(t *testing.T) {
	articles, err := readKBFile(strings.NewReader(`[
		{"source_ref":"faq:vpn","title":"VPN","content":"Reinstall the client.","tags":["vpn"]},
		{"source_ref":"faq:mail","content":"Check the quota."}
	]`))
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "faq:vpn", articles[0].SourceRef)
	assert.Equal(t, []string{"vpn"}, articles[0].Tags)
	assert.Empty(t, articles[1].Title)

	_, err = readKBFile(strings.NewReader(`{"source_ref":"x"}`))
	assert.Error(t, err)
}
