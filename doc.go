// The [canvassync] package keeps a canvas of notes, images and files in sync across devices and collaborators.
//
// # Sessions
//
// A [Selector] owns exactly one active session store at a time and picks it from the identity signals it is given:
//
//   - a shared canvas id selects a collaborative session under sharedCanvases/{id},
//   - an authenticated identity selects the user's own canvas under users/{uid},
//   - anything else keeps the canvas on this device only.
//
// Call [Selector.Sync] whenever the signals change. The previous store is closed, which tears down its
// subscriptions, before the next one starts.
//
// # Backends
//
// Remote and shared sessions need a [github.com/surrealdb/canvassync/pkg/backend.Backend]. The module ships three:
// an in-process memory backend, a websocket relay client, and a SurrealDB backend built on live queries.
//
// # Errors
//
// Validation, token, permission and rate limit errors are returned by the call that caused them.
// Backend write failures are not: they are recorded in the session state and published on [Selector.Events].
package canvassync
