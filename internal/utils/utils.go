/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package utils

import (
	"encoding/base64"
	"net/url"

	"github.com/rogpeppe/fastuuid"
	"stash.kopano.io/kgol/rndm"
)

var guidGenerator = fastuuid.MustNewGenerator()

// NewRandomGUID returns a new random 128 bit hex id.
func NewRandomGUID() string {
	return guidGenerator.Hex128()
}

// NewRandomString returns a URL safe random string of length n.
func NewRandomString(n int) string {
	return base64.RawURLEncoding.EncodeToString(rndm.GenerateRandomBytes(base64.RawURLEncoding.DecodedLen(n)))
}

// AsWebsocketURL rewrites http(s) URLs to ws(s). Other schemes are kept.
func AsWebsocketURL(uriString string) (string, error) {
	uri, err := url.Parse(uriString)
	if err != nil {
		return "", err
	}

	switch uri.Scheme {
	case "https":
		uri.Scheme = "wss"
	case "http":
		uri.Scheme = "ws"
	}

	return uri.String(), nil
}

// AsHTTPURL rewrites ws(s) URLs to http(s). Other schemes are kept.
func AsHTTPURL(uriString string) (string, error) {
	uri, err := url.Parse(uriString)
	if err != nil {
		return "", err
	}

	switch uri.Scheme {
	case "wss":
		uri.Scheme = "https"
	case "ws":
		uri.Scheme = "http"
	}

	return uri.String(), nil
}
