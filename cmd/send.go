package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/seismic-bv/seismic/internal/config"
	"github.com/seismic-bv/seismic/internal/contact"
	"github.com/seismic-bv/seismic/internal/relay"
)

var (
	sendName    string
	sendEmail   string
	sendMessage string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a contact message from the terminal",
	Long: `Encrypt a contact message to the configured recipient and broadcast it,
exactly like a form submission. The command waits for the relays and prints
one line per relay.

Examples:
  seismic send -n Ada -e ada@example.com -m "Hello"
  echo "Hello" | seismic send -n Ada -e ada@example.com -m -`,
	Args: cobra.NoArgs,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendName, "name", "n", "", "Sender name")
	sendCmd.Flags().StringVarP(&sendEmail, "email", "e", "", "Sender email")
	sendCmd.Flags().StringVarP(&sendMessage, "message", "m", "", `Message text, "-" reads stdin`)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	message := sendMessage
	if message == "-" {
		raw, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), int64(cfg.Contact.MaxMessageSize)+1))
		if err != nil {
			return fmt.Errorf("reading message: %w", err)
		}
		message = strings.TrimRight(string(raw), "\r\n")
	}

	dispatcher, _, err := newDispatcher(cfg, logger)
	if err != nil {
		return err
	}

	report, err := dispatcher.Dispatch(cmd.Context(), contact.Form{
		Name:    sendName,
		Email:   sendEmail,
		Message: message,
	})
	printReport(cmd.OutOrStdout(), report)
	return err
}

func printReport(w io.Writer, report *relay.Report) {
	if report == nil {
		return
	}
	fmt.Fprintf(w, "event %s\n", report.EventID)
	for _, o := range report.Outcomes {
		line := fmt.Sprintf("  %-8s %s", o.Status, o.URL)
		if o.Message != "" {
			line += ": " + o.Message
		}
		fmt.Fprintf(w, "%s (%s)\n", line, o.Latency.Round(time.Millisecond))
	}
}

// stdinIsPipe reports whether stdin is redirected rather than a terminal.
func stdinIsPipe() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice == 0
}
