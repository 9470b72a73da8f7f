// Package session implements the challenge-response login handshake and
// owns the client's in-memory session.
//
// The handshake never sends the password or its stored hash:
//
//	LoggedOut ──request_login_token──▶ TokenRequested ──login(proof)──▶ LoggedIn
//	    ▲                                     │                            │
//	    └──────────────── failure ────────────┘                  Clear / Close
//
// with proof = H(H(H(UPPER(username)) + password) + challenge). The
// challenge is single-use, so a captured proof cannot be replayed.
//
// A Store is the only holder of session state. It is handed to the client
// as its client.TokenSource, which is how the token reaches every later call.
package session
