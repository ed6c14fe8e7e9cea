package wire

// SessionHeader carries the session key on every call after the initial
// register/connect handshake.
const SessionHeader = "Tim-Session-Key"

// CloseStatusUnauthenticated is the websocket close code the server uses when
// a session becomes invalid after the stream was already established. Clients
// treat it like an HTTP 401: drop the cached session before reconnecting.
const CloseStatusUnauthenticated = 4001

// Default space joined when a client does not name one.
const DefaultSpace = "lobby"
