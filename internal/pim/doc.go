// Package pim is the HTTP client for a remote 4AllPortal server.
//
// A Client logs in once, keeps the session id and re-logs in once when a
// request comes back 401. All requests pass through a token bucket so a
// large backlog cannot flood the remote API.
package pim
