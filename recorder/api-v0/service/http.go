/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package service

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmrecorder/recorder"
	"stash.kopano.io/kwm/kwmrecorder/recorder/odata"
	"stash.kopano.io/kwm/kwmrecorder/recorder/sessions"
)

const (
	URIPrefix = "/api/kwm/v0"
)

// HTTPService binds the HTTP router with handlers for kwm API v0.
type HTTPService struct {
	logger   logrus.FieldLogger
	services *recorder.Services
}

// NewHTTPService creates a new HTTPService with the provided options.
func NewHTTPService(ctx context.Context, logger logrus.FieldLogger, services *recorder.Services) *HTTPService {
	return &HTTPService{
		logger:   logger,
		services: services,
	}
}

// AddRoutes configures the services HTTP end point routing on the provided
// context and router.
func (h *HTTPService) AddRoutes(ctx context.Context, router *mux.Router, chain alice.Chain) http.Handler {
	v0 := router.PathPrefix(URIPrefix).Subrouter()
	chain = chain.Append(odata.WithOData)

	if manager, ok := h.services.SessionManager.(*sessions.Manager); ok {
		r := v0.PathPrefix("/recorder").Subrouter()

		// /api/kwm/v0/recorder/sessions
		// /api/kwm/v0/recorder/sessions/:identity
		// /api/kwm/v0/recorder/recordings
		r.Handle("/sessions", chain.ThenFunc(manager.HTTPSessionsHandler)).Methods(http.MethodGet)
		r.Handle("/sessions/{identity}", chain.ThenFunc(manager.HTTPSessionsHandler)).Methods(http.MethodGet)
		r.Handle("/recordings", chain.ThenFunc(manager.HTTPRecordingsHandler)).Methods(http.MethodGet)
	}

	return router
}
