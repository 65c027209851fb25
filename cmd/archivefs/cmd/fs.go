package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/spf13/cobra"

	"github.com/aweris/archivefs"
	"github.com/aweris/archivefs/vfs"
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>...",
	Short: "Create directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parents, _ := cmd.Flags().GetBool("parents")
		return withWorkspace(cmd, func(ws *archivefs.Workspace) error {
			mkdir := ws.Mkdir
			if parents {
				mkdir = ws.MkdirAll
			}
			for _, arg := range args {
				if err := mkdir(clean(arg)); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "Remove files and empty directories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ws *archivefs.Workspace) error {
			for _, arg := range args {
				if err := ws.Remove(clean(arg)); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var touchCmd = &cobra.Command{
	Use:   "touch <path>...",
	Short: "Update modification times, creating missing files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		return withWorkspace(cmd, func(ws *archivefs.Workspace) error {
			for _, arg := range args {
				name := clean(arg)
				_, err := ws.Stat(name)
				if errors.Is(err, fs.ErrNotExist) {
					err = ws.WriteFile(name, nil)
				}
				if err != nil {
					return err
				}
				if err := ws.Chtimes(name, now, now); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var statCmd = &cobra.Command{
	Use:   "stat <path>...",
	Short: "Show file status",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ws *archivefs.Workspace) error {
			for _, arg := range args {
				name := clean(arg)
				info, err := ws.Stat(name)
				if err != nil {
					return err
				}
				c, entry, err := ws.Manager().Resolve(name)
				if err != nil {
					return err
				}
				fmt.Printf("  File: %s\n", arg)
				fmt.Printf(" Mount: %s\n", c.MountPoint())
				fmt.Printf(" Entry: %q\n", entry)
				fmt.Printf("  Size: %d\n", info.Size())
				fmt.Printf("  Mode: %s\n", info.Mode())
				fmt.Printf("Modify: %s\n", modTime(info))
				if n, ok := info.Sys().(vfs.Node); ok {
					fmt.Printf("Access: %s\n", format(n.Time(vfs.AccessRead)))
					if members := n.Members(); members != nil {
						fmt.Printf("Members: %d\n", len(members))
					}
				}
			}
			return nil
		})
	},
}

func init() {
	mkdirCmd.Flags().BoolP("parents", "p", false, "create missing parents")
	rootCmd.AddCommand(mkdirCmd, rmCmd, touchCmd, statCmd)
}

// clean turns a command line path into a workspace name.
func clean(p string) string {
	p = path.Clean(p)
	for len(p) > 1 && p[0] == '/' {
		p = p[1:]
	}
	if p == "/" {
		return "."
	}
	return p
}

func modTime(info fs.FileInfo) string {
	return format(vfs.Millis(info.ModTime()))
}

func format(millis int64) string {
	if millis == vfs.Unknown {
		return "-"
	}
	return vfs.Time(millis).Format(time.DateTime)
}
