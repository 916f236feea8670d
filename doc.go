// Package annostream is a host-side coordination layer for document
// annotation. A single host process serves many short-lived peers, one
// per open document. Peers send named actions to the host over NATS; the
// host routes them, keeps per-peer session state and one process-wide
// state record, runs document analysis, and streams colored highlight
// units back to peers in paced, bounded batches.
//
// The packages compose bottom-up: natsclient wraps the NATS connection
// with circuit breaking, router dispatches named actions with
// exactly-one-reply semantics, session owns host state, highlight owns
// transformation and batch delivery, and service ties them into a
// managed lifecycle behind cmd/annostream.
package annostream
