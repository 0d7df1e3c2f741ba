package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

// Issuer hands out the provider reference and opaque client secret a
// donation intent carries. LocalIssuer is the default; the Stripe
// issuer is wired only when a key is configured.
type Issuer interface {
	Issue(ctx context.Context, amountCents int64, rideID string) (providerRef, clientSecret string, err error)
}

// LocalIssuer mints a random token. The external payment collaborator
// exchanges it out of band; nothing here talks to the network.
type LocalIssuer struct{}

func (LocalIssuer) Issue(ctx context.Context, amountCents int64, rideID string) (string, string, error) {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	secret := hex.EncodeToString(b)
	return "local_" + secret[:12], secret, nil
}
