package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/seismic-bv/seismic/internal/contact"
	"github.com/seismic-bv/seismic/internal/errors"
	"github.com/seismic-bv/seismic/internal/nostr"
)

// maxEventBytes bounds the event read from a file or stdin.
const maxEventBytes = 1 << 20

var decryptCmd = &cobra.Command{
	Use:   "decrypt [event.json]",
	Short: "Open a received contact message",
	Long: `Verify and decrypt a kind 4 event addressed to the recipient key. The
event is read as JSON from the file argument or from stdin. The key comes
from --key or SEISMIC_DECRYPT_KEY.

Examples:
  seismic decrypt --key nsec1... event.json
  cat event.json | seismic decrypt --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecrypt,
}

func init() {
	rootCmd.AddCommand(decryptCmd)

	decryptCmd.Flags().String("key", "", "Recipient private key (nsec or hex)")
	decryptCmd.Flags().String("cipher", "", "Cipher the sender used (nip04, nip44), defaults to contact.cipher")
	decryptCmd.Flags().Bool("json", false, "Print the decrypted payload as JSON")

	bindFlags(decryptCmd.Flags(), map[string]string{"key": "decrypt.key"})
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	keyText := viper.GetString("decrypt.key")
	if keyText == "" {
		return errors.NewValidationError(errors.ErrCodeInvalidKey, "a recipient key is required (--key or SEISMIC_DECRYPT_KEY)")
	}
	key, err := nostr.ParsePrivateKey(keyText)
	if err != nil {
		return err
	}

	cipherName, _ := cmd.Flags().GetString("cipher")
	if cipherName == "" {
		cipherName = viper.GetString("contact.cipher")
	}
	cipher, err := nostr.CipherByName(cipherName)
	if err != nil {
		return err
	}

	var in io.Reader
	switch {
	case len(args) == 1 && args[0] != "-":
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	case len(args) == 1 || stdinIsPipe() || cmd.InOrStdin() != os.Stdin:
		in = cmd.InOrStdin()
	default:
		return fmt.Errorf("no event given: pass a file or pipe the event JSON to stdin")
	}

	raw, err := io.ReadAll(io.LimitReader(in, maxEventBytes))
	if err != nil {
		return fmt.Errorf("reading event: %w", err)
	}
	var ev nostr.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return errors.WrapValidation(err, errors.ErrCodeValidationFailed, "event is not valid JSON")
	}

	payload, err := contact.OpenMessage(key, &ev, cipher)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	fmt.Fprintf(out, "From:    %s <%s>\n", payload.FromName, payload.FromEmail)
	fmt.Fprintf(out, "Sent:    %s\n", payload.Time().UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "Sender:  %s\n", ev.PubKey)
	fmt.Fprintf(out, "\n%s\n", payload.Message)
	return nil
}
