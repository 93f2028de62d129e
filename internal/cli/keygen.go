package cli

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nilbase/nildb/internal/ids"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a node identity keypair",
	Long: `Generate a fresh ed25519 seed and print it alongside the DID it
derives, for use as nuc.node_private_key (and, for a self-administered
node, nuc.root_authority_did) in config.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	seed := priv.Seed()
	did := ids.NewDID(pub)

	fmt.Printf("node_private_key: %s\n", hex.EncodeToString(seed))
	fmt.Printf("did:              %s\n", did)
	return nil
}
