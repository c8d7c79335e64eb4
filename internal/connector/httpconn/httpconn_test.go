package httpconn

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attestor/internal/connector"
	"attestor/internal/connector/contract"
	"attestor/internal/facts"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestConnectorContract(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subjects/AB%2FC", r.URL.EscapedPath())
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"credit_score": 720, "annual_income": 65000.25, "employment_status": "employed", "internal_id": 9}`)
	})
	conn, err := New(Config{
		Name:     "bureau",
		URL:      srv.URL + "/subjects/{subject}",
		Auth:     AuthAPIKey,
		Token:    "secret",
		Provides: []string{"credit_score", "annual_income", "employment_status"},
	})
	require.NoError(t, err)

	income, err := facts.NumberFromString("65000.25")
	require.NoError(t, err)

	suite := &contract.Suite{
		Connector: conn,
		Tests: []contract.FetchTest{
			{
				Name:    "returns declared facts only",
				Subject: connector.Subject{ID: "AB/C", Jurisdiction: "US"},
				Expected: facts.Values{
					"credit_score":      facts.Int(720),
					"annual_income":     income,
					"employment_status": facts.String("employed"),
				},
			},
		},
	}
	suite.Run(t)
}

func TestConnectorPostAndBearer(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ABC123", body["subject"])
		assert.Equal(t, "UK", body["jurisdiction"])
		_, _ = io.WriteString(w, `{"listed": false, "score_band": "A"}`)
	})
	conn, err := New(Config{
		Name:     "sanctions",
		URL:      srv.URL + "/check",
		Method:   "post",
		Auth:     AuthBearer,
		Token:    "tok",
		Provides: []string{"sanctions_listed"},
		Fields:   map[string]string{"sanctions_listed": "listed"},
	})
	require.NoError(t, err)

	values, err := conn.Fetch(context.Background(), connector.Subject{ID: "ABC123", Jurisdiction: "UK"})
	require.NoError(t, err)
	assert.Equal(t, facts.Values{"sanctions_listed": facts.Bool(false)}, values)
}

func TestConnectorWildcardSkipsNestedFields(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"age": 30, "address": {"city": "x"}, "tags": ["a","b"], "note": null}`)
	})
	conn, err := New(Config{Name: "profile", URL: srv.URL})
	require.NoError(t, err)

	values, err := conn.Fetch(context.Background(), connector.Subject{ID: "ABC"})
	require.NoError(t, err)
	assert.Len(t, values, 2)
	assert.True(t, facts.Int(30).Equal(values["age"]))
	assert.True(t, facts.List(facts.String("a"), facts.String("b")).Equal(values["tags"]))
}

func TestParseResponse(t *testing.T) {
	conn, err := New(Config{Name: "bureau", URL: "http://bureau.test/{subject}", Provides: []string{"score"}})
	require.NoError(t, err)

	tests := []struct {
		name     string
		status   int
		body     string
		category connector.Category
		retry    bool
	}{
		{"not found", http.StatusNotFound, ``, connector.CategoryNotFound, false},
		{"unauthorized", http.StatusUnauthorized, ``, connector.CategoryAuth, false},
		{"server error", http.StatusBadGateway, ``, connector.CategoryBadStatus, true},
		{"malformed json", http.StatusOK, `{"score":`, connector.CategoryBadData, false},
		{"nested declared fact", http.StatusOK, `{"score": {"v": 1}}`, connector.CategoryBadData, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := conn.parseResponse(tt.status, []byte(tt.body))
			require.Error(t, err)
			assert.Equal(t, tt.category, connector.CategoryOf(err))
			assert.Equal(t, tt.retry, connector.IsRetryable(err))
		})
	}

	t.Run("missing declared fact is omitted", func(t *testing.T) {
		values, err := conn.parseResponse(http.StatusOK, []byte(`{"other": 1}`))
		require.NoError(t, err)
		assert.Empty(t, values)
	})
}

func TestConnectorTimeoutAndTransport(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	conn, err := New(Config{Name: "slow", URL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = conn.Fetch(ctx, connector.Subject{ID: "ABC"})
	assert.Equal(t, connector.CategoryTimeout, connector.CategoryOf(err))

	gone, abandon := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, abandon)
	_, err = conn.Fetch(gone, connector.Subject{ID: "ABC"})
	assert.Equal(t, connector.CategoryCanceled, connector.CategoryOf(err))
	assert.False(t, connector.CountsAsFailure(err))

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	down, err := New(Config{Name: "down", URL: closed.URL})
	require.NoError(t, err)

	errTest := &contract.ErrorTest{
		Name:          "unreachable host is a retryable transport error",
		Connector:     down,
		Subject:       connector.Subject{ID: "ABC"},
		ExpectedError: connector.CategoryTransport,
		ExpectedRetry: true,
	}
	errTest.Run(t)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{URL: "http://x"})
	assert.Error(t, err)
	_, err = New(Config{Name: "a", URL: "http://x", Method: "DELETE"})
	assert.Error(t, err)
	_, err = New(Config{Name: "a", URL: "http://x", Auth: AuthBearer})
	assert.Error(t, err)
	_, err = New(Config{Name: "a", URL: "http://x", Auth: "oauth"})
	assert.Error(t, err)
}
