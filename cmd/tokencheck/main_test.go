package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"attestor/internal/credential"
	"attestor/internal/rules"
)

var master = []byte("0123456789abcdef0123456789abcdef-tokencheck")

func issue(t *testing.T, now time.Time) (string, credential.PublicKey) {
	t.Helper()
	signer, err := credential.NewSigner(credential.KeySpec{Algorithm: credential.AlgMLDSA65, KeyID: "pq1"}, master)
	require.NoError(t, err)
	issuer, err := credential.NewIssuer(signer, "partner", nil,
		credential.WithClock(func() time.Time { return now }),
		credential.WithQR(false, 0),
	)
	require.NoError(t, err)
	cred, err := issuer.Issue(context.Background(), rules.Verdict{
		Outcome:      rules.OutcomeYes,
		MatchedRule:  "CreditScoreCheck",
		Reason:       "ok",
		Jurisdiction: "US",
		EvaluatedAt:  now,
	}, credential.RequestBinding{})
	require.NoError(t, err)

	pub, ok := credential.Export("partner", signer)
	require.True(t, ok)
	return cred.Token, pub
}

func writeKeys(t *testing.T, keys ...credential.PublicKey) string {
	t.Helper()
	data, err := yaml.Marshal(map[string]any{"keys": keys})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "trusted_keys.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestTokencheckAcceptsTrustedToken(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	token, pub := issue(t, now)
	keys := writeKeys(t, pub)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--keys", keys, token}, nil, &stdout, &stderr, func() time.Time { return now })
	require.Equal(t, 0, code, stderr.String())

	var out report
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.True(t, out.Valid)
	assert.Equal(t, credential.AlgMLDSA65, out.Algorithm)
	require.NotNil(t, out.Claims)
	assert.Equal(t, "YES", out.Claims.Outcome)
}

func TestTokencheckReadsStdin(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	token, pub := issue(t, now)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--keys", writeKeys(t, pub)}, strings.NewReader(token+"\n"), &stdout, &stderr, func() time.Time { return now })
	assert.Equal(t, 0, code, stderr.String())
}

func TestTokencheckFailures(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	token, pub := issue(t, now)

	t.Run("expired", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := run([]string{"--keys", writeKeys(t, pub), token}, nil, &stdout, &stderr,
			func() time.Time { return now.Add(24 * time.Hour) })
		assert.Equal(t, 1, code)
		assert.Contains(t, stdout.String(), `"failure": "expired"`)
	})

	t.Run("unknown issuer", func(t *testing.T) {
		other := pub
		other.Issuer = "someone-else"
		var stdout, stderr bytes.Buffer
		code := run([]string{"--keys", writeKeys(t, other), token}, nil, &stdout, &stderr, func() time.Time { return now })
		assert.Equal(t, 1, code)
		assert.Contains(t, stdout.String(), `"failure": "unknown_issuer"`)
	})

	t.Run("missing keys flag", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, 2, run([]string{token}, nil, &stdout, &stderr, time.Now))
	})
}
