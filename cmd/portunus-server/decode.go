package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode BITS",
	Short: "Decode a raw Wiegand bit string into card id, facility and user id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cred, err := formatRegistry().Decode(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "format:   %s\n", cred.Format)
		fmt.Fprintf(out, "card_id:  %s\n", cred.CardID)
		fmt.Fprintf(out, "facility: %s\n", cred.Facility)
		fmt.Fprintf(out, "user_id:  %s\n", cred.UserID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}
