package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"collabtext/internal/liveview"
	"collabtext/internal/session"
)

// RenderState is what UI tabs receive on every change.
type RenderState struct {
	View         liveview.View         `json:"view"`
	Presence     int                   `json:"presence"`
	Presentation liveview.Presentation `json:"presentation"`
	// transient message from the relay, cleared by the next state
	Notice string `json:"notice,omitempty"`
}

func renderState(e session.Event) RenderState {
	state := RenderState{
		View:         e.View,
		Presence:     e.Presence,
		Presentation: liveview.PresentationFor(nil, e.View),
	}
	if e.Type == session.EventNotice {
		state.Notice = e.Message
	}
	return state
}

func encodeState(state RenderState) ([]byte, error) {
	return json.Marshal(state)
}

// wsURL derives the relay socket endpoint from its http base.
func wsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
