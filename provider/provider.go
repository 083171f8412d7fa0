// Package provider normalizes upstream requests for the financial data
// providers the proxy knows about. It fills in server-held API keys and
// required parameters without ever overriding what the caller sent.
package provider

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// Provider identifies how an upstream URL is normalized.
type Provider int

const (
	// None passes URLs through unchanged.
	None Provider = iota
	AlphaVantage
	Finnhub
	Polygon
	TwelveData
)

var names = map[Provider]string{
	None:         "none",
	AlphaVantage: "alphavantage",
	Finnhub:      "finnhub",
	Polygon:      "polygon",
	TwelveData:   "twelvedata",
}

func (p Provider) String() string {
	if name, ok := names[p]; ok {
		return name
	}
	return fmt.Sprintf("provider(%d)", int(p))
}

// Parse returns the Provider with the given name. The empty string is None.
func Parse(name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return None, nil
	}
	for p, n := range names {
		if n == name {
			return p, nil
		}
	}
	return None, fmt.Errorf("unknown provider %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (p Provider) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so providers can be
// named in configuration files.
func (p *Provider) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// KeyParam returns the query parameter that carries the API key, or "" for
// providers that take none.
func (p Provider) KeyParam() string {
	switch p {
	case AlphaVantage:
		return "apikey"
	case Finnhub:
		return "token"
	case Polygon:
		return "apiKey"
	case TwelveData:
		return "apikey"
	case None:
		return ""
	default:
		return ""
	}
}

// KeyEnv returns the environment variable holding the provider's API key.
func (p Provider) KeyEnv() string {
	switch p {
	case AlphaVantage:
		return "ALPHA_VANTAGE_KEY"
	case Finnhub:
		return "FINNHUB_TOKEN"
	case Polygon:
		return "POLYGON_API_KEY"
	case TwelveData:
		return "TWELVE_DATA_KEY"
	case None:
		return ""
	default:
		return ""
	}
}

// Keys holds the server-side API key for each provider. A missing or empty
// key disables injection for that provider.
type Keys map[Provider]string

// KeysFromEnv reads every provider's key from its environment variable.
func KeysFromEnv() Keys {
	return keysFrom(os.Getenv)
}

func keysFrom(getenv func(string) string) Keys {
	keys := Keys{}
	for _, p := range []Provider{AlphaVantage, Finnhub, Polygon, TwelveData} {
		if v := strings.TrimSpace(getenv(p.KeyEnv())); v != "" {
			keys[p] = v
		}
	}
	return keys
}

// Configured reports whether a key is available for p.
func (k Keys) Configured(p Provider) bool {
	return k[p] != ""
}

// Request is a normalized upstream request.
type Request struct {
	// FinalURL is the URL to fetch. It is also the response cache key.
	FinalURL string
	// Headers are provider-specific request headers.
	Headers http.Header
}

// Build normalizes u for provider p. u is not modified.
func Build(u *url.URL, p Provider, keys Keys) Request {
	out := *u
	q := out.Query()
	headers := http.Header{}

	switch p {
	case AlphaVantage:
		setDefault(q, "function", "GLOBAL_QUOTE")
		injectKey(q, p, keys)
		headers.Set("Accept", "application/json")
	case Finnhub, Polygon, TwelveData:
		injectKey(q, p, keys)
		headers.Set("Accept", "application/json")
	case None:
		return Request{FinalURL: u.String(), Headers: headers}
	}

	out.RawQuery = q.Encode()
	return Request{FinalURL: out.String(), Headers: headers}
}

func injectKey(q url.Values, p Provider, keys Keys) {
	if key := keys[p]; key != "" {
		setDefault(q, p.KeyParam(), key)
	}
}

func setDefault(q url.Values, name, value string) {
	if q.Get(name) == "" {
		q.Set(name, value)
	}
}
