package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/archivefs"
)

var catCmd = &cobra.Command{
	Use:   "cat <path>...",
	Short: "Print file contents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCat,
}

func init() {
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) error {
	return withWorkspace(cmd, func(ws *archivefs.Workspace) error {
		for _, arg := range args {
			f, err := ws.Open(clean(arg))
			if err != nil {
				return err
			}
			_, err = io.Copy(os.Stdout, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}
