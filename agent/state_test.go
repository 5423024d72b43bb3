package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/config"
	"collabtext/internal/liveview"
	"collabtext/internal/session"
)

func TestRenderState(t *testing.T) {
	view := liveview.NewView(liveview.Snapshot{
		ID:        "doc-1",
		Kind:      liveview.KindNote,
		Fields:    map[string]any{"title": "Ideas"},
		UpdatedAt: 100,
	}).WithStatus(liveview.Live)

	state := renderState(session.Event{Type: session.EventNotice, View: view, Presence: 4, Message: "slow down"})
	assert.Equal(t, liveview.Available, state.Presentation)
	assert.Equal(t, "slow down", state.Notice)
	assert.Equal(t, 4, state.Presence)

	raw, err := encodeState(state)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "live", decoded["view"].(map[string]any)["liveStatus"])
	assert.Equal(t, "available", decoded["presentation"])

	gone := liveview.Apply(view, liveview.DocumentDeleted{Reason: "owner_deleted"})
	state = renderState(session.Event{Type: session.EventDeleted, View: gone})
	assert.Equal(t, liveview.DeletedWhileViewing, state.Presentation)
	assert.Empty(t, state.Notice)
}

func TestWsURL(t *testing.T) {
	tests := map[string]string{
		"http://relay.local:8081":    "ws://relay.local:8081/ws",
		"https://share.example.com/": "wss://share.example.com/ws",
		"http://10.0.0.2:8081/base":  "ws://10.0.0.2:8081/base/ws",
	}
	for in, want := range tests {
		got, err := wsURL(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := wsURL("ftp://relay")
	assert.Error(t, err)
}

func TestSessionSettingsFromConfig(t *testing.T) {
	c, err := config.LoadAgent("")
	require.NoError(t, err)

	settings := sessionSettings(c, "ws://relay/ws")
	assert.Equal(t, "ws://relay/ws", settings.URL)
	assert.Equal(t, c.ReconnectMax, settings.ReconnectMax)
	assert.Equal(t, c.PingInterval, settings.PingInterval)
}
