package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"assetvault/pkg/ignore"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var importWorkers int

var importCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Store every file under a directory",
	Long: `Walk a directory and store each file as an item, in parallel.
Files matching the rules in <dir>/.avignore (gitignore syntax) are skipped.
The display name is the path relative to dir.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := args[0]
		matcher, err := ignore.NewMatcher(root)
		if err != nil {
			return err
		}
		files, err := matcher.Collect(root)
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", root, err)
		}

		var mu sync.Mutex
		out := cmd.OutOrStdout()
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(max(importWorkers, 1))
		for _, rel := range files {
			g.Go(func() error {
				data, err := os.ReadFile(filepath.Join(root, rel))
				if err != nil {
					return err
				}
				item, err := AV.Items.Create(ctx, filepath.ToSlash(rel), filepath.Base(rel), data)
				if err != nil {
					return fmt.Errorf("import %s: %w", rel, err)
				}
				mu.Lock()
				fmt.Fprintf(out, "%s\t%s\n", item.ID, rel)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		fmt.Fprintf(out, "imported %d files\n", len(files))
		return nil
	},
}

func init() {
	importCmd.Flags().IntVarP(&importWorkers, "workers", "j", 4, "parallel uploads")
	rootCmd.AddCommand(importCmd)
}
