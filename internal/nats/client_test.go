package nats

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), "nats://127.0.0.1:1")
	assert.Error(t, err)
}

func TestClient_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "1" {
		t.Skip("Skipping integration test; set INTEGRATION_TEST=1 to run")
	}

	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	ctx := context.Background()
	c, err := New(ctx, natsURL)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.EnsureStream(ctx, "TELEGRAM_TEST", []string{"telegram-test.>"}))
	assert.True(t, c.IsConnected())
	assert.NoError(t, c.Publish("telegram-test.ping", []byte(`{}`)))
}
