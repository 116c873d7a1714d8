package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seismic-bv/seismic/internal/nostr"
)

var keygenFormat string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create a recipient keypair",
	Long: `Generate a secp256k1 keypair for receiving contact messages. Put the npub
in contact.recipient and keep the nsec in your Nostr client.

Examples:
  seismic keygen
  seismic keygen --format json`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVarP(&keygenFormat, "format", "f", "text", "Output format (text, json)")
}

type keygenOutput struct {
	NPub       string `json:"npub"`
	NSec       string `json:"nsec"`
	PublicHex  string `json:"public_hex"`
	PrivateHex string `json:"private_hex"`
}

func runKeygen(cmd *cobra.Command, args []string) error {
	key, err := nostr.GeneratePrivateKey()
	if err != nil {
		return err
	}
	pub := key.PublicKey()
	out := keygenOutput{
		NPub:       pub.NPub(),
		NSec:       key.NSec(),
		PublicHex:  pub.Hex(),
		PrivateHex: key.Hex(),
	}

	w := cmd.OutOrStdout()
	switch keygenFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "text":
		fmt.Fprintf(w, "npub: %s\n", out.NPub)
		fmt.Fprintf(w, "nsec: %s\n", out.NSec)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Set contact.recipient (or SEISMIC_CONTACT_RECIPIENT) to the npub.")
		fmt.Fprintln(w, "Keep the nsec secret.")
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", keygenFormat)
	}
}
