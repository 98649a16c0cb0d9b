package devices

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/biosig-go/internal/sources/soundcard"
)

// Command creates the devices command, which lists capture devices.
func Command() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := soundcard.ListDevices()
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(devices)
			}
			return printDevices(devices)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print devices as JSON")
	return cmd
}

func printDevices(devices []soundcard.DeviceInfo) error {
	if len(devices) == 0 {
		fmt.Println("No capture devices found")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tID\tDEFAULT")
	for _, d := range devices {
		def := ""
		if d.IsDefault {
			def = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", d.Index, d.Name, d.ID, def)
	}
	return w.Flush()
}
