/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package recorder

// Service is an interface for services providing information about activity.
type Service interface {
	NumActive() uint64
}

// Services is a defined collection of services which handle activity.
type Services struct {
	SessionManager Service
}

// Services returns all active services of the associated Services as iterable.
func (services *Services) Services() []Service {
	s := make([]Service, 0)

	if services.SessionManager != nil {
		s = append(s, services.SessionManager)
	}

	return s
}

// NumActive returns the sum of active units over all services.
func (services *Services) NumActive() (active uint64) {
	for _, service := range services.Services() {
		active += service.NumActive()
	}

	return active
}
