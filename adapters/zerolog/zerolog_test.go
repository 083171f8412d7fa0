package zerologadapter

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestZerologLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(zerolog.InfoLevel)
	l := New(&zl)

	l.Debugf("cache hit for %s", "finnhub.io")
	l.Infof("listening on %s", ":8080")
	l.Errorf("rate limiter failed: %v", "redis down")

	out := buf.String()
	assert.NotContains(t, out, "cache hit")
	assert.Contains(t, out, `"level":"info","message":"listening on :8080"`)
	assert.Contains(t, out, `"level":"error","message":"rate limiter failed: redis down"`)
}

func TestZerologLogger_With(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	l := New(&zl).With("service", "finproxy")

	l.Infof("started")

	assert.Contains(t, buf.String(), `"service":"finproxy"`)
	assert.Contains(t, buf.String(), `"message":"started"`)
}
