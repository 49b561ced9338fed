package commands

import (
	"fmt"
	"os"

	"assetvault/pkg/types"

	"github.com/spf13/cobra"
)

var catOutput string

var catCmd = &cobra.Command{
	Use:   "cat [id]",
	Short: "Print an item's content",
	Long:  `Load the full payload of an item and write it to stdout, or to --output.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := types.ParseItemID(args[0])
		if err != nil {
			return err
		}
		_, data, err := AV.Items.Download(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("cat failed: %w", err)
		}

		if catOutput != "" {
			return os.WriteFile(catOutput, data, 0644)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	catCmd.Flags().StringVarP(&catOutput, "output", "o", "", "write to this file instead of stdout")
	rootCmd.AddCommand(catCmd)
}
