// Package portal is the client side session layer for the portal backend:
// an identity provider abstraction, the session provider built on top of it,
// and the error catalogue shared by the client, api and provider packages.
//
// Sessions:
//   - Provider subscribes once to an IdentityProvider and turns every signed
//     in identity into a Session by fetching the application profile through
//     a ProfileService. Backend fields win for authorization flags.
//   - Sessions are immutable. The provider swaps whole values, so readers may
//     hold on to a *Session without locking.
//   - Identity changes are numbered. A profile response that arrives after a
//     newer change is dropped.
//
// Tokens:
//   - Provider.Token is the token source for client.Client. Tokens expiring
//     within the refresh skew are refreshed before use and concurrent
//     refreshes are coalesced. A failed refresh ends the session.
//
// Activity sinks:
//   - ActivitySink receives lifecycle events (sign in, refresh, sign out and
//     state changes). Sinks run best-effort; errors are logged.
package portal
