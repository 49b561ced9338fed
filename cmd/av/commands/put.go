package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var putName string

var putCmd = &cobra.Command{
	Use:   "put [file]",
	Short: "Store a model file",
	Long:  `Read a local file and store it as a new item. Prints the new item id.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		filename := filepath.Base(args[0])
		name := putName
		if name == "" {
			name = filename
		}

		item, err := AV.Items.Create(cmd.Context(), name, filename, data)
		if err != nil {
			return fmt.Errorf("put failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), item.ID)
		return nil
	},
}

func init() {
	putCmd.Flags().StringVarP(&putName, "name", "n", "", "display name (defaults to the file name)")
	rootCmd.AddCommand(putCmd)
}
