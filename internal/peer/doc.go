// Package peer is the serving side of a participant: a web listener speaking
// HTTP over pinned mutual TLS, and the RequestHandler contract it dispatches
// to.
//
// Routes:
//
//	GET  /status          pull the peer's status (JSON)
//	POST /status/push     push a status (JSON body)
//	GET  /download?id=ID  download a resource, optionally ranged
//
// Every route answers 200 on success, ranged downloads included. A peer is
// identified by the hex SHA-256 of its client certificate.
//
// MockHandler is the RequestHandler used by conformance runs.
package peer
