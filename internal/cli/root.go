package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

// NewRootCommand returns the cop-analytics command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdout, os.Stderr)
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "cop-analytics",
		Short:         "COP parameter statistics and QAF reporting service",
		Long:          "cop-analytics computes monthly statistics, anomalies, correlations and the quality attainment factor for plant COP parameters.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to the YAML config file")

	cmd.AddCommand(
		newServeCmd(a),
		newAnalyzeCmd(a),
		newMigrateCmd(a),
	)
	return cmd
}
