/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions

import (
	"errors"
	"net/http"
	"strconv"

	api "stash.kopano.io/kwm/kwmrecorder/recorder/api-v0"
)

func (m *Manager) HTTPSessionsHandler(rw http.ResponseWriter, req *http.Request) {
	identity, _ := api.GetRequestVar(req, "identity")

	var resource interface{}
	if identity == "" {
		resource = api.NewCollectionResource(m.Sessions(), req, nil)
	} else {
		session := m.Session(identity)
		if session == nil {
			m.writeError(rw, api.NewErrorWithCodeAndMessage(
				api.ErrorCodeSessionNotFound,
				"The specified participant has no recording session",
				api.ErrNotFound,
			))
			return
		}
		resource = api.NewItemResource(session, req)
	}

	if writeErr := api.WriteResourceAsJSON(rw, resource); writeErr != nil {
		m.logger.WithError(writeErr).Errorln("failed to write json response")
	}
}

func (m *Manager) HTTPRecordingsHandler(rw http.ResponseWriter, req *http.Request) {
	limit := 0
	if top := req.URL.Query().Get("$top"); top != "" {
		var err error
		limit, err = strconv.Atoi(top)
		if err != nil || limit < 0 {
			m.writeError(rw, api.NewErrorWithCodeAndMessage(
				api.ErrorCodeUnspecifiedError,
				"The $top query parameter must be a non-negative number",
				api.ErrBadRequest,
			))
			return
		}
	}

	records, err := m.Records(req.Context(), limit)
	if err != nil {
		if errors.Is(err, ErrHistoryDisabled) {
			err = api.NewErrorWithCodeAndMessage(
				api.ErrorCodeHistoryNotEnabled,
				"The recording history is not enabled",
				api.ErrNotFound,
			)
		} else {
			m.logger.WithError(err).Errorln("failed to list recording history")
		}
		m.writeError(rw, err)
		return
	}

	if writeErr := api.WriteResourceAsJSON(rw, api.NewCollectionResource(records, req, nil)); writeErr != nil {
		m.logger.WithError(writeErr).Errorln("failed to write json response")
	}
}

func (m *Manager) writeError(rw http.ResponseWriter, err error) {
	if writeErr := api.WriteErrorAsJSON(rw, err); writeErr != nil {
		m.logger.WithError(writeErr).Errorln("failed to write json error")
	}
}
