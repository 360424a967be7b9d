// Catalog tool - validates a material catalog and prints its transition table.
//
// Usage: go run ./cmd/catalog [-materials catalog.csv] [-normalize] [-at 150]
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"text/tabwriter"

	"github.com/pthm-cable/cellspace/material"
)

func main() {
	path := flag.String("materials", "", "Material catalog CSV (empty = built-in catalog)")
	normalize := flag.Bool("normalize", false, "Write the catalog back out as canonical CSV")
	at := flag.Float64("at", math.NaN(), "Also show what each material becomes at this temperature (°C)")
	flag.Parse()

	reg := material.Default()
	if *path != "" {
		var err error
		if reg, err = material.LoadFile(*path); err != nil {
			slog.Error("invalid catalog", "path", *path, "error", err)
			os.Exit(1)
		}
	}

	if *normalize {
		if err := reg.WriteCSV(os.Stdout); err != nil {
			slog.Error("failed to write catalog", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := writeTable(os.Stdout, reg, *at); err != nil {
		slog.Error("failed to write table", "error", err)
		os.Exit(1)
	}
}

// writeTable prints one row per material in catalog order. A non-NaN at adds
// a column with the material reached after one transition step at that
// temperature.
func writeTable(w io.Writer, reg *material.Registry, at float64) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := "NAME\tPHASE\tMOLAR MASS\tCOLD\tHOT"
	if !math.IsNaN(at) {
		header += fmt.Sprintf("\tAT %g°C", at)
	}
	fmt.Fprintln(tw, header)

	for _, m := range reg.All() {
		molar := "-"
		if m.IsGas() {
			molar = fmt.Sprintf("%g", m.MolarMass())
		}
		cold, hot := "-", "-"
		if t, ok := m.ColdThreshold(); ok {
			cold = fmt.Sprintf("< %g → %s", t, m.ColdProduct().Name())
		}
		if t, ok := m.HotThreshold(); ok {
			hot = fmt.Sprintf("> %g → %s", t, m.HotProduct().Name())
		}
		row := fmt.Sprintf("%s\t%s\t%s\t%s\t%s", m.Name(), m.Phase(), molar, cold, hot)
		if !math.IsNaN(at) {
			next := m
			if p := m.CheckTransition(at); p != nil {
				next = p
			}
			row += "\t" + next.Name()
		}
		fmt.Fprintln(tw, row)
	}
	return tw.Flush()
}
