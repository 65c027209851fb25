package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aweris/archivefs"
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory or container",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLs,
}

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().BoolP("long", "l", false, "show mode, size and modification time")
}

func runLs(cmd *cobra.Command, args []string) error {
	name := "."
	if len(args) > 0 {
		name = clean(args[0])
	}
	long, _ := cmd.Flags().GetBool("long")

	return withWorkspace(cmd, func(ws *archivefs.Workspace) error {
		entries, err := ws.ReadDir(name)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', tabwriter.AlignRight)
		for _, e := range entries {
			suffix := ""
			if e.IsDir() {
				suffix = "/"
			}
			if !long {
				fmt.Fprintf(tw, "%s%s\t\n", e.Name(), suffix)
				continue
			}
			info, err := e.Info()
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%d\t %s\t %s%s\t\n", info.Mode(), info.Size(), modTime(info), e.Name(), suffix)
		}
		return tw.Flush()
	})
}
