package ids

import (
	"crypto/ed25519"
	"testing"
)

func mustKeypair(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	return priv, pub
}
