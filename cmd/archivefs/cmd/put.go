package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aweris/archivefs"
)

var putCmd = &cobra.Command{
	Use:   "put <path> [file]",
	Short: "Write a file from stdin or a local file",
	Long:  "Write a file, creating missing directories and containers on its path.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runPut,
}

func init() {
	rootCmd.AddCommand(putCmd)
	putCmd.Flags().BoolP("append", "a", false, "append instead of replacing")
}

func runPut(cmd *cobra.Command, args []string) error {
	var src io.Reader = os.Stdin
	if len(args) > 1 {
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}
	appendMode, _ := cmd.Flags().GetBool("append")

	return withWorkspace(cmd, func(ws *archivefs.Workspace) error {
		open := ws.Create
		if appendMode {
			open = ws.Append
		}
		w, err := open(clean(args[0]))
		if err != nil {
			return err
		}
		n, err := io.Copy(w, src)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("put %s: %w", args[0], err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %d bytes to %s\n", n, args[0])
		return nil
	})
}
