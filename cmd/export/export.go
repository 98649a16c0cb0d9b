package export

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/biosig-go/internal/conf"
	edfexport "github.com/tphakala/biosig-go/internal/export"
)

// Command creates the export command, which converts a segment chain into
// a single EDF file.
func Command(settings *conf.Settings) *cobra.Command {
	var patient string

	cmd := &cobra.Command{
		Use:   "export [first-segment.wav] [out.edf]",
		Short: "Export a recorded chain to EDF",
		Long:  "Concatenate a recorded segment chain into one EDF file. The output defaults to the first segment name with an .edf extension.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			first := args[0]
			output := strings.TrimSuffix(first, filepath.Ext(first)) + ".edf"
			if len(args) == 2 {
				output = args[1]
			}
			opts := edfexport.OptionsFromSettings(&settings.Export)
			opts.PatientID = patient

			res, err := edfexport.ChainToEDF(first, output, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s: %d segments, %d records, %d samples",
				res.Path, res.Segments, res.Records, res.Samples)
			if res.Padding > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", %d padding columns", res.Padding)
			}
			if res.Clipped > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", %d samples clipped", res.Clipped)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVar(&patient, "patient", "", "EDF patient identification field")
	cmd.Flags().Float64Var(&settings.Export.PhysicalMin, "physmin", viper.GetFloat64("export.physicalmin"), "µV mapped to the lowest digital value")
	cmd.Flags().Float64Var(&settings.Export.PhysicalMax, "physmax", viper.GetFloat64("export.physicalmax"), "µV mapped to the highest digital value")

	return cmd
}
