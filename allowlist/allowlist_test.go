package allowlist

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jassus213/go-finance-proxy/provider"
)

func TestValidate(t *testing.T) {
	a := New(Default())

	tests := []struct {
		name    string
		raw     string
		wantErr error
		host    string
	}{
		{name: "finnhub quote", raw: "https://finnhub.io/api/v1/quote?symbol=AAPL", host: "finnhub.io"},
		{name: "plain http allowed", raw: "http://api.polygon.io/v2/aggs/ticker/AAPL/prev", host: "api.polygon.io"},
		{name: "hostname case folded", raw: "https://FinnHub.IO/api/v1/quote", host: "finnhub.io"},
		{name: "port ignored for matching", raw: "https://finnhub.io:443/api/v1/quote", host: "finnhub.io"},
		{name: "ftp rejected", raw: "ftp://example.com/x", wantErr: ErrInvalidURL},
		{name: "garbage", raw: "::not a url", wantErr: ErrInvalidURL},
		{name: "relative", raw: "/api/v1/quote", wantErr: ErrInvalidURL},
		{name: "empty host", raw: "https:///api", wantErr: ErrInvalidURL},
		{name: "unknown host", raw: "https://evil.example.com/api", wantErr: ErrBlockedHost},
		{name: "suffix is not membership", raw: "https://finnhub.io.evil.com/api", wantErr: ErrBlockedHost},
		{name: "subdomain is not membership", raw: "https://alphavantage.co/query", wantErr: ErrBlockedHost},
		{name: "dot dot", raw: "https://finnhub.io/api/../admin", wantErr: ErrSuspiciousPath},
		{name: "encoded dot dot", raw: "https://finnhub.io/api/%2e%2e/admin", wantErr: ErrSuspiciousPath},
		{name: "double slash", raw: "https://finnhub.io/api//quote", wantErr: ErrSuspiciousPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, h, err := a.Validate(tt.raw)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, u)

				var verr *ValidationError
				require.True(t, errors.As(err, &verr))
				assert.NotEmpty(t, verr.Message)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, u)
			assert.Equal(t, tt.host, h.Name)
		})
	}
}

func TestValidate_BlockedHostMessageNamesHost(t *testing.T) {
	_, _, err := New(Default()).Validate("https://evil.example.com/api")
	require.Error(t, err)
	assert.Equal(t, "Host evil.example.com is not in the allowlist", err.Error())
}

func TestValidate_SuspiciousPathOnAnyHost(t *testing.T) {
	a := New(Default())
	for _, h := range a.Hosts() {
		_, _, err := a.Validate("https://" + h.Name + "/a/../b")
		assert.ErrorIs(t, err, ErrSuspiciousPath, h.Name)
	}
}

func TestDefault(t *testing.T) {
	a := New(Default())

	h, ok := a.Lookup("finnhub.io")
	require.True(t, ok)
	assert.Equal(t, provider.Finnhub, h.Provider)
	assert.Equal(t, int64(60), h.Bucket.Capacity)
	assert.InDelta(t, 1.0/1000, h.Bucket.RefillPerMs, 1e-15)

	h, ok = a.Lookup("api.twelvedata.com")
	require.True(t, ok)
	assert.Equal(t, int64(8), h.Bucket.Capacity)
	assert.InDelta(t, 1.0/60000, h.Bucket.RefillPerMs, 1e-15)

	names := make([]string, 0)
	for _, h := range a.Hosts() {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"api.polygon.io", "api.twelvedata.com", "finnhub.io", "www.alphavantage.co"}, names)
	assert.Len(t, a.Buckets(), 4)
}
