package agent

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rowanhq/backstop/internal/push"
)

// Local boundary surface. The application (and the platform's push
// delivery) talks to the agent over these endpoints; everything else on
// the listener belongs to the interceptor.
const (
	PathAction    = "/_backstop/action"
	PathSync      = "/_backstop/sync"
	PathPush      = "/_backstop/push"
	PathClick     = "/_backstop/click"
	PathSubscribe = "/_backstop/subscribe"
)

// maxBoundaryBody caps boundary request bodies; payloads are small JSON.
const maxBoundaryBody = 1 << 20

type actionRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type syncRequest struct {
	Tag string `json:"tag"`
}

// API returns the handler for the agent's boundary endpoints.
func (a *Agent) API() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathAction, a.apiAction)
	mux.HandleFunc("POST "+PathSync, a.apiSync)
	mux.HandleFunc("POST "+PathPush, a.apiPush)
	mux.HandleFunc("POST "+PathClick, a.apiClick)
	mux.HandleFunc("POST "+PathSubscribe, a.apiSubscribe)
	return mux
}

// apiAction is enqueueOfflineAction: accept the deferred write, arm sync.
func (a *Agent) apiAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBoundaryBody)).Decode(&req); err != nil {
		http.Error(w, "malformed action request", http.StatusBadRequest)
		return
	}

	if err := a.EnqueueOfflineAction(r.Context(), req.Type, req.Payload); err != nil {
		// Storage down: the action is lost and the caller is told.
		a.logger.Warn("offline action rejected", "type", req.Type, "error", err)
		http.Error(w, "action not accepted", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// apiSync is requestBackgroundSync: always succeeds.
func (a *Agent) apiSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBoundaryBody)).Decode(&req); err != nil || req.Tag == "" {
		req.Tag = a.syncTag
	}
	a.RequestBackgroundSync(req.Tag)
	w.WriteHeader(http.StatusAccepted)
}

// apiPush receives an already-delivered push payload. The body is handed
// to the gateway verbatim; a malformed payload still shows a notification,
// so this endpoint never rejects on content.
func (a *Agent) apiPush(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBoundaryBody))
	if err != nil {
		http.Error(w, "unreadable payload", http.StatusBadRequest)
		return
	}
	a.Signal(Event{Kind: EventPush, Payload: payload})
	w.WriteHeader(http.StatusAccepted)
}

// apiSubscribe registers the client's push subscription with the gateway.
// Unlike push payloads, a subscription that does not parse is useless, so
// this endpoint does reject on content.
func (a *Agent) apiSubscribe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBoundaryBody))
	if err != nil {
		http.Error(w, "unreadable subscription", http.StatusBadRequest)
		return
	}

	sub, err := push.SubscriptionFromJSON(body)
	if err != nil {
		a.logger.Warn("subscription rejected", "error", err)
		http.Error(w, "malformed subscription", http.StatusBadRequest)
		return
	}
	a.gateway.Subscribe(sub)
	w.WriteHeader(http.StatusAccepted)
}

func (a *Agent) apiClick(w http.ResponseWriter, r *http.Request) {
	var click struct {
		Action string `json:"action"`
		Tag    string `json:"tag"`
		Data   struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBoundaryBody)).Decode(&click); err != nil {
		http.Error(w, "malformed click", http.StatusBadRequest)
		return
	}

	e := Event{Kind: EventNotificationClick}
	e.Click.Action = click.Action
	e.Click.Tag = click.Tag
	e.Click.Data.URL = click.Data.URL
	a.Signal(e)
	w.WriteHeader(http.StatusAccepted)
}
