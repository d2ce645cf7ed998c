package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/abelbrown/contestare/internal/catalog"
)

func contractsCmd() *cobra.Command {
	var category string
	var premiumOnly bool
	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "List the contract templates shipped with the binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			templates, err := catalog.Templates()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TITLE\tCATEGORY\tPRICE\tPREMIUM\tDESCRIPTION")
			shown := 0
			for _, c := range templates {
				if category != "" && c.Category != category {
					continue
				}
				if premiumOnly && !c.IsPremium {
					continue
				}
				premium := ""
				if c.IsPremium {
					premium = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\n",
					c.Title, c.Category, c.Price, premium, truncate(c.Description, 50))
				shown++
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d templates\n", shown, len(templates))
			return nil
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "only this category")
	cmd.Flags().BoolVar(&premiumOnly, "premium", false, "only premium templates")
	return cmd
}
