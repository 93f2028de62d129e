package cli

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/nilbase/nildb/internal/ids"
)

func TestKeygenOutputRoundTrips(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	seedHex := hex.EncodeToString(priv.Seed())
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		t.Fatalf("decoding seed: %v", err)
	}
	if len(seed) != ed25519.SeedSize {
		t.Fatalf("expected seed of length %d, got %d", ed25519.SeedSize, len(seed))
	}

	reconstructed := ed25519.NewKeyFromSeed(seed)
	did := ids.NewDID(pub)
	reconstructedDID := ids.NewDID(reconstructed.Public().(ed25519.PublicKey))
	if did != reconstructedDID {
		t.Errorf("DID derived from seed round-trip does not match: %s != %s", did, reconstructedDID)
	}
}
