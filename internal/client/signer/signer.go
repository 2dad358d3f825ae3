package signer

import "context"

// Signer produces a transaction signature from a serialized message using a
// threshold subset of key shares.
type Signer interface {
	Sign(ctx context.Context, message []byte, keyShareIDs []string) (string, error)
}
