package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/seismic-bv/seismic/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for seismic.

Examples:
  seismic version              # Show version and commit
  seismic version --detailed   # Show detailed version info
  seismic version --format json # Output as JSON`,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
	versionCmd.Flags().Bool("detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	detailed, _ := cmd.Flags().GetBool("detailed")
	w := cmd.OutOrStdout()

	switch versionFormat {
	case "json":
		return outputVersionJSON(w)
	case "text":
		switch {
		case versionShort:
			fmt.Fprintln(w, version.GetShortVersion())
		case detailed:
			outputVersionDetailed(w)
		default:
			outputVersionDefault(w)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
	}
}

func outputVersionDefault(w io.Writer) {
	info := version.GetBuildInfo()

	fmt.Fprintf(w, "seismic %s", info.Version)
	if info.GitCommit != "unknown" && len(info.GitCommit) >= 7 {
		fmt.Fprintf(w, " (%s)", info.GitCommit[:7])
	}
	if info.Dirty {
		fmt.Fprint(w, " (dirty)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Go: %s\n", info.GoVersion)
	fmt.Fprintf(w, "Platform: %s\n", info.Platform)
}

func outputVersionDetailed(w io.Writer) {
	fmt.Fprintln(w, version.GetDetailedVersion())
	if version.IsRelease() {
		fmt.Fprintln(w, "Build type: release")
	} else {
		fmt.Fprintln(w, "Build type: development")
	}
}

func outputVersionJSON(w io.Writer) error {
	info := version.GetBuildInfo()
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(struct {
		*version.BuildInfo
		IsRelease bool `json:"is_release"`
	}{info, version.IsRelease()})
}
