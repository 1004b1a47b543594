// Package identifier resolves the device identifier reported to clients.
//
// The raw identifier may be rewritten by a transform template holding at most one
// "%1" placeholder. Clients connecting before an identifier exists wait in a pending
// queue and are greeted, in connection order, on the first resolution.
package identifier
