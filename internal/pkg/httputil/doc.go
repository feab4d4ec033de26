// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handlers use these helpers instead of writing raw http.ResponseWriter
// calls, so every endpoint emits the same JSON framing and the same
// {success:false, error, code, details} error envelope.
package httputil
