// Package handlers exposes the REST and websocket surface over the
// coordination engine.
package handlers

import (
	"time"

	"go.uber.org/zap"

	"github.com/mossy-p/roomdrop/config"
	"github.com/mossy-p/roomdrop/internal/blob"
	"github.com/mossy-p/roomdrop/internal/content"
	"github.com/mossy-p/roomdrop/internal/presence"
	"github.com/mossy-p/roomdrop/internal/relay"
	"github.com/mossy-p/roomdrop/internal/session"
)

// Readiness reports whether the shared backend currently answers.
type Readiness interface {
	Reachable() bool
}

// API bundles the dependencies the HTTP surface needs. It is constructed in
// main and holds no process-wide state.
type API struct {
	cfg      *config.Config
	store    content.Store
	presence *presence.Failover
	relay    *relay.Relay
	blobs    blob.Storage
	ready    Readiness
	deps     session.Deps
	logger   *zap.Logger
}

func NewAPI(cfg *config.Config, deps session.Deps, ready Readiness) *API {
	return &API{
		cfg:      cfg,
		store:    deps.Content,
		presence: deps.Presence,
		relay:    deps.Relay,
		blobs:    deps.Blobs,
		ready:    ready,
		deps:     deps,
		logger:   deps.Logger,
	}
}

func (a *API) fileTTL() time.Duration {
	return a.cfg.Retention.FileWindow
}
