package commands

import (
	"errors"
	"fmt"

	"assetvault/pkg/types"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm [id]...",
	Short: "Delete items",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var errs []error
		for _, arg := range args {
			id, err := types.ParseItemID(arg)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := AV.Items.Delete(cmd.Context(), id); err != nil {
				errs = append(errs, fmt.Errorf("rm %s: %w", id, err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
