package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/webull-go/webull-api-go/config"
	"github.com/webull-go/webull-api-go/device"
)

func TestDefaultOptions(t *testing.T) {
	t.Setenv("WEBULL_PUSH_URL", "")
	o := defaultOptions()
	assert.Equal(t, config.LiveEndpoints.Push, o.baseURL)
	assert.Equal(t, 10*time.Millisecond, o.pollInterval)
	assert.Equal(t, 2*time.Second, o.handlerErrorPause)
	assert.NotNil(t, o.logger)
	assert.NotNil(t, o.connCreator)
	assert.Nil(t, o.registerer)
	assert.False(t, o.debug)
}

func TestDefaultOptionsEnv(t *testing.T) {
	t.Setenv("WEBULL_PUSH_URL", "ws://localhost:1883/mqtt")
	assert.Equal(t, "ws://localhost:1883/mqtt", defaultOptions().baseURL)
}

func TestApplyOptions(t *testing.T) {
	store := device.NewMemoryStore("x")
	o := defaultOptions()
	o.applyAll(
		WithBaseURL("ws://example.com"),
		WithTradingMode(config.ModePaper),
		WithPollInterval(time.Second),
		WithHandlerErrorPause(0),
		WithDebug(true),
		WithDeviceStore(store),
	)
	assert.Equal(t, config.PaperEndpoints.Push, o.baseURL, "later options win")
	assert.Equal(t, time.Second, o.pollInterval)
	assert.Zero(t, o.handlerErrorPause)
	assert.True(t, o.debug)
	assert.Same(t, store, o.deviceStore)

	o.applyAll(WithBaseURL("ws://example.com"), WithTradingMode("demo"))
	assert.Equal(t, "ws://example.com", o.baseURL, "unknown mode leaves the URL alone")
}
