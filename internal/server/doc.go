// Package server exposes the conversation sessions and the image service
// over HTTP, with a gRPC health endpoint and optional tailnet listeners.
//
// Routes under /api are per-user and require either a bearer JWT or the
// configured local user. Send streams session views as server-sent events
// until the reply lands. The /functions/v1 routes keep the request and
// response contracts of the hosted chat and image functions so existing
// browser clients can point at this server unchanged.
package server
