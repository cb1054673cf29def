package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cadence/internal/monitor"
	"github.com/fyrsmithlabs/cadence/internal/phase"
)

var (
	classifyPaths []string
	classifyPlain bool
)

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().StringSliceVarP(&classifyPaths, "path", "p", nil, "changed path, repeatable")
	classifyCmd.Flags().BoolVar(&classifyPlain, "plain", false, "print the phase without color")
}

// classifyCmd prints the phase a commit message would get
var classifyCmd = &cobra.Command{
	Use:   "classify <message>",
	Short: "Print the phase a commit message is classified as",
	Long: `Print the phase a commit message would be recorded with.

Examples:
  cadence classify "test: add failing Email validation test"
  cadence classify "chore: bump deps" --path go.mod --path go.sum`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func runClassify(cmd *cobra.Command, args []string) error {
	p := phase.ClassifyCommit(strings.Join(args, " "), classifyPaths)
	out := p.String()
	if !classifyPlain {
		out = monitor.RenderPhase(p)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}
