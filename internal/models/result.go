// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package models

import (
	"net/http"
)

// Result is the uniform {status, message, data} wrapper. HTTP bodies and
// task results both use it, so clients branch on Status alone.
type Result struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// OK wraps a successful payload.
func OK(data any) Result {
	return Result{Status: http.StatusOK, Message: "OK", Data: data}
}

// Accepted wraps a payload for work continuing in the background.
func Accepted(data any) Result {
	return Result{Status: http.StatusAccepted, Message: "Accepted", Data: data}
}

// ResultFromError converts an error into the wrapper. Data is nil unless
// the error explicitly carries a payload.
func ResultFromError(err error) Result {
	if e, ok := AsError(err); ok {
		msg := e.Message
		if msg == "" {
			msg = e.Error()
		}
		if e.Kind == KindInternal {
			msg = "internal error"
		}
		return Result{Status: e.Kind.HTTPStatus(), Message: msg, Data: e.Data}
	}
	return Result{Status: http.StatusInternalServerError, Message: "internal error"}
}
