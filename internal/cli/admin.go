package cli

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nilbase/nildb/internal/config"
	"github.com/nilbase/nildb/internal/ids"
	"github.com/nilbase/nildb/internal/nuc"
)

// adminTokenTTL is long enough to cover a single admin request round-trip;
// these tokens are minted fresh per invocation and never persisted.
const adminTokenTTL = 30 * time.Second

var adminBaseURL string

// adminCmd groups the operator-facing counterparts of spec §6's
// admin-delegation routes (POST /v1/system/log-level,
// /v1/system/maintenance/{start,stop}). Unlike the teacher's `admin`
// command, which manages long-lived deploy.Service tokens for CI/CD,
// these routes are authorized by a NUC capability chain: the CLI mints a
// single-use invocation token signed by this node's own root authority
// key and sends it as a bearer token, rather than issuing anything durable.
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operate a running node's admin routes",
	Long: `Commands that call a running node's /v1/system/* admin routes,
authorizing themselves with a NUC invocation token minted on the fly and
signed by the root authority private key in this node's config.`,
}

var maintenanceStartCmd = &cobra.Command{
	Use:   "maintenance-start",
	Short: "Put the node into maintenance mode",
	RunE:  func(cmd *cobra.Command, args []string) error { return callAdminRoute("/v1/system/maintenance/start", nil) },
}

var maintenanceStopCmd = &cobra.Command{
	Use:   "maintenance-stop",
	Short: "Take the node out of maintenance mode",
	RunE:  func(cmd *cobra.Command, args []string) error { return callAdminRoute("/v1/system/maintenance/stop", nil) },
}

var logLevelCmd = &cobra.Command{
	Use:   "log-level <level>",
	Short: "Change the running node's log level",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(map[string]string{"level": args[0]})
		if err != nil {
			return err
		}
		return callAdminRoute("/v1/system/log-level", body)
	},
}

func init() {
	adminCmd.PersistentFlags().StringVar(&adminBaseURL, "url", "", "Base URL of the running node (default: derived from config)")

	adminCmd.AddCommand(maintenanceStartCmd, maintenanceStopCmd, logLevelCmd)
	rootCmd.AddCommand(adminCmd)
}

func callAdminRoute(path string, body []byte) error {
	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := mintSystemToken(cfg)
	if err != nil {
		return fmt.Errorf("minting admin token: %w", err)
	}

	baseURL := adminBaseURL
	if baseURL == "" {
		baseURL = "http://" + cfg.Server.Address()
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, respBody)
	}
	fmt.Printf("%s: %d %s\n", path, resp.StatusCode, respBody)
	return nil
}

// mintSystemToken signs a single-link invocation token in the
// "nil/db/system/update" namespace, issued and subjected by this node's
// own root authority key so authz.RequireRootAuthority accepts it.
func mintSystemToken(cfg *config.Config) (string, error) {
	seed, err := hex.DecodeString(cfg.NUC.NodePrivateKey)
	if err != nil || len(seed) != ed25519.SeedSize {
		return "", fmt.Errorf("nuc.node_private_key must be a %d-byte hex-encoded ed25519 seed", ed25519.SeedSize)
	}
	rootKey := ed25519.NewKeyFromSeed(seed)
	rootDID, err := ids.ParseDID(cfg.NUC.RootAuthorityDID)
	if err != nil {
		return "", fmt.Errorf("nuc.root_authority_did: %w", err)
	}
	if rootDID != ids.NewDID(rootKey.Public().(ed25519.PublicKey)) {
		return "", fmt.Errorf("nuc.node_private_key does not match nuc.root_authority_did")
	}

	return nuc.Sign(rootKey, rootDID, rootDID, rootDID, "nil/db/system/update",
		nuc.Body{Kind: nuc.BodyInvocation}, "", time.Now().Add(adminTokenTTL))
}
