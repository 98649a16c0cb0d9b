package inspect

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/biosig-go/internal/recorder"
)

// Command creates the inspect command, which prints the segments of a
// recorded chain.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [first-segment.wav]",
		Short: "Print the segment chain of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := recorder.ReadChain(args[0])
			// A broken link still leaves the readable prefix worth printing
			if len(chain) > 0 {
				if perr := printChain(cmd.OutOrStdout(), chain); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func printChain(out io.Writer, chain []recorder.ChainEntry) error {
	first := chain[0].Header
	fmt.Fprintf(out, "Measurement: %s\n", first.MeasurementID)
	fmt.Fprintf(out, "Devices:     %s\n", strings.Join(first.DeviceIDs, ", "))
	fmt.Fprintf(out, "Channels:    %d @ %d Hz, %d samples per block\n", first.Channels, first.SampleRate, first.SamplesPerBlock)
	fmt.Fprintf(out, "Filter:      HP %g Hz, LP %g Hz\n", first.HighPass, first.LowPass)
	fmt.Fprintf(out, "Started:     %s\n\n", first.StartTime.Format(time.RFC3339))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tFILE\tSAMPLES\tDURATION\tNEXT")
	for _, entry := range chain {
		h := entry.Header
		next := "-"
		if h.Next != nil {
			next = fmt.Sprintf("%s (#%d)", h.Next.File, h.Next.Number)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", h.Number, entry.Path, h.Samples, h.Duration(), next)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	samples, rate := recorder.ChainSamples(chain)
	var total time.Duration
	if rate > 0 {
		total = time.Duration(samples) * time.Second / time.Duration(rate)
	}
	fmt.Fprintf(out, "\n%d segments, %d samples, %s\n", len(chain), samples, total)
	return nil
}
