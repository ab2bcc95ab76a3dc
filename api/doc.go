// Package api exposes an Engine over HTTP.
//
// Routes live under /v1. Uploads are accepted with 202 and processed in the
// background; clients poll the returned task. Every request is admitted by a
// per-client token bucket when the engine has a rate limiter.
package api
