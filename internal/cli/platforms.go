package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/fehuapaya/scrapli/platform"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(platformsCmd)
	platformsCmd.AddCommand(platformsShowCmd)
}

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List registered platforms",
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDEFAULT\tLEVELS\tSESSIONS")
		for _, name := range platform.Names() {
			def, err := platform.Get(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", def.Name, def.DefaultDesiredPriv, len(def.PrivilegeLevels), def.Session != nil)
		}
		return tw.Flush()
	},
}

var platformsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a platform definition as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := platform.Get(args[0])
		if err != nil {
			return err
		}
		out, err := platform.Marshal(def)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}
