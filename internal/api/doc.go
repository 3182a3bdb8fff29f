// Package api implements the HTTP REST API and WebSocket server of the hub.
//
// This package provides:
//   - REST endpoints for device triggers, entity states, the entity
//     registry, services and automation runs
//   - A WebSocket hub relaying state changes and live device trigger
//     subscriptions
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, metrics)
//
// # Architecture
//
// The API server is a thin layer over the hub's in-process components.
// Trigger lookups and validation go to the automation platforms, state
// reads to the state machine, entity changes to the entity registry and
// service calls to the service registry. Every request that changes
// something runs under a bus context attributed to the token's subject.
//
// # Security
//
// Protected routes require "Authorization: Bearer <token>", an HS256 JWT
// signed with security.jwt.secret. WebSocket connections authenticate with
// a single-use ticket from POST /api/v1/auth/ws-ticket so the token never
// appears in a URL.
//
// # Trigger Subscriptions
//
// A WebSocket client can attach a device trigger directly:
//
//	→ {"type":"subscribe_trigger","id":"1","payload":{"platform":"device",...}}
//	← {"type":"result","id":"1","payload":{"subscription":"1"}}
//	← {"type":"event","id":"1","payload":{"variables":{...},"context":{...}}}
//	→ {"type":"unsubscribe","id":"2","payload":{"subscription":"1"}}
//
// Closing the socket releases every subscription of the connection.
package api
