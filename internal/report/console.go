// Package report renders finished runs: a console summary, a JSON document
// and an Arrow IPC file with one row per shape.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/common-nighthawk/go-figure"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/fxnlabs/gemmbench/internal/bench"
	"github.com/fxnlabs/gemmbench/internal/gpu"
	"github.com/fxnlabs/gemmbench/internal/hostinfo"
)

// ConsoleOptions control the console summary.
type ConsoleOptions struct {
	// Banner prints the ASCII-art header.
	Banner bool
	// TopN limits the ranking; zero omits it.
	TopN int
	Host hostinfo.Info
}

var printer = message.NewPrinter(language.English)

// Console writes the end-of-run summary. Failed shapes appear inline in
// sweep order and are excluded from the statistics.
func Console(w io.Writer, rep *bench.Report, opts ConsoleOptions) error {
	if opts.Banner {
		if _, err := fmt.Fprintln(w, figure.NewFigure("gemmbench", "", true).String()); err != nil {
			return err
		}
	}
	writeHeader(w, rep.Driver, rep.Device, opts.Host)
	printer.Fprintf(w, "Run:     %s (warmup %d, iterations %d, %s)\n\n",
		rep.RunID, rep.Options.Warmup, rep.Options.Iterations, rep.Options.Layout)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "SHAPE\tDTYPE\tELAPSED MS\tAVG MS\tTOPS\t")
	for _, o := range rep.Outcomes {
		if o.Failure != nil {
			f := o.Failure
			fmt.Fprintf(tw, "%s\t%s\tFAILED\t%s\t-\t\n", f.Shape, f.DType, f.Kind)
			continue
		}
		res := o.Result
		printer.Fprintf(tw, "%s\t%s\t%.3f\t%.3f\t%.2f\t\n", res.Shape, res.DType, res.ElapsedMillis, res.AvgMillis, res.TOPS)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := rep.Summary()
	printer.Fprintf(w, "\n%d shapes, %d succeeded, %d failed\n", s.Shapes, s.Succeeded, s.Failed)
	if s.Best != nil {
		printer.Fprintf(w, "Best:    %.2f TOPS (%s %s)\n", s.BestTOPS, s.Best.Shape, s.Best.DType)
		printer.Fprintf(w, "Mean:    %.2f TOPS\n", s.MeanTOPS)
	}
	for _, f := range rep.Failures() {
		fmt.Fprintf(w, "Failed:  %s %s: %s\n", f.Shape, f.DType, f.Message)
	}

	if opts.TopN <= 0 || s.Succeeded == 0 {
		return nil
	}
	top := rep.TopN(opts.TopN)
	printer.Fprintf(w, "\nTop %d by TOPS\n", len(top))
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	for i, res := range top {
		printer.Fprintf(tw, "%d.\t%s\t%s\t%.2f\t\n", i+1, res.Shape, res.DType, res.TOPS)
	}
	return tw.Flush()
}

// Comparison writes the variant ranking of a compare run.
func Comparison(w io.Writer, cmp *bench.Comparison, host hostinfo.Info) error {
	writeHeader(w, cmp.Driver, cmp.Device, host)
	fmt.Fprintf(w, "Shape:   %s %s %s\n\n", cmp.Shape, cmp.DType, cmp.Layout)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "VARIANT\tKIND\tALGO\tSOLUTION\tFLAGS\tITERS\tAVG MS\tTOPS\t")
	for _, o := range cmp.Ranked() {
		v := o.Variant
		if o.Failure != nil {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t-\tFAILED\t%s\t\n", v.Name, v.Kind, v.Algorithm, v.SolutionIndex, v.Flags, o.Failure.Kind)
			continue
		}
		printer.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.3f\t%.2f\t\n",
			v.Name, v.Kind, v.Algorithm, v.SolutionIndex, v.Flags, o.Result.Iterations, o.Result.AvgMillis, o.Result.TOPS)
	}
	return tw.Flush()
}

// Devices writes the device count and the properties of device 0.
func Devices(w io.Writer, driver string, count int, props gpu.DeviceProperties) {
	fmt.Fprintf(w, "Driver:  %s\n", driver)
	fmt.Fprintf(w, "Devices: %d\n", count)
	fmt.Fprintf(w, "Device 0: %s\n", props.Name)
	printer.Fprintf(w, "  Total memory:       %d bytes (%.1f GiB)\n", props.TotalMemoryBytes, float64(props.TotalMemoryBytes)/(1<<30))
	fmt.Fprintf(w, "  Compute capability: %s\n", props.ComputeCapability())
}

func writeHeader(w io.Writer, driver string, props gpu.DeviceProperties, host hostinfo.Info) {
	fmt.Fprintf(w, "Driver:  %s\n", driver)
	printer.Fprintf(w, "Device:  %s, %.1f GiB, compute %s\n",
		props.Name, float64(props.TotalMemoryBytes)/(1<<30), props.ComputeCapability())
	if host.OS != "" {
		fmt.Fprintf(w, "Host:    %s, %d CPUs\n", host, host.NumCPU)
	}
}
