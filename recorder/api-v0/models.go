/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package api

import (
	"fmt"
	"net/http"

	"stash.kopano.io/kwm/kwmrecorder/recorder/odata"
)

type CollectionResource struct {
	ODataContext  string `json:"@odata.context"`
	ODataNextLink string `json:"@odata.nextLink,omitempty"`
	ODataCount    int    `json:"@odata.count"`

	Values Collection `json:"values"`
}

type Collection interface{}

type ItemResource struct {
	ODataContext string `json:"@odata.context"`
	Item         `json:"value"`
}

type Item interface{}

// NewCollectionResource wraps values with the OData context of req. The
// next link is added when nextLink is not nil.
func NewCollectionResource[T any](values []T, req *http.Request, nextLink *string) *CollectionResource {
	if values == nil {
		values = make([]T, 0)
	}
	resource := &CollectionResource{
		ODataContext: contextOf(req),
		ODataCount:   len(values),
		Values:       values,
	}
	if nextLink != nil {
		resource.ODataNextLink = *nextLink
	}
	return resource
}

// NewItemResource wraps item with the OData context of req.
func NewItemResource(item Item, req *http.Request) *ItemResource {
	return &ItemResource{
		ODataContext: contextOf(req),
		Item:         item,
	}
}

func contextOf(req *http.Request) string {
	if o := odata.FromContext(req.Context()); o != nil {
		return o.Context
	}
	return req.URL.Path
}

type ErrorWithCodeAndMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	innerError error
}

func NewErrorWithCodeAndMessage(code string, message string, err error) *ErrorWithCodeAndMessage {
	return &ErrorWithCodeAndMessage{
		Code:    code,
		Message: message,

		innerError: err,
	}
}

func (err *ErrorWithCodeAndMessage) Error() string {
	code := err.Code
	message := err.Message
	if message == "" && err.innerError != nil {
		message = err.innerError.Error()
	}

	return fmt.Sprintf("%s: %s", code, message)
}

func (err *ErrorWithCodeAndMessage) Unwrap() error {
	return err.innerError
}
