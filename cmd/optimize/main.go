// Calibration tool - searches flow rate and scene noise with CMA-ES so that
// generated scenes settle near a target tick without conservation drift.
//
// Usage: go run ./cmd/optimize -output runs/cal [-config config.yaml] [-target-ticks 500]
//
// Every evaluation is appended to calibration.csv in the output directory and
// the best parameters are written back as best_config.yaml.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/cellspace/config"
)

func main() {
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	maxTicks := flag.Uint64("max-ticks", 2000, "Tick cap per run; an unsettled run scores as twice this")
	targetTicks := flag.Uint64("target-ticks", 500, "Tick at which the gas should settle")
	seeds := flag.Int("seeds", 3, "Scenes generated per evaluation")
	maxEvals := flag.Int("max-evals", 200, "Evaluation budget")
	population := flag.Int("population", 0, "CMA-ES population (0 = 4 + 3·ln(dim))")
	outputDir := flag.String("output", "", "Directory for calibration.csv and best_config.yaml")
	flag.Parse()

	if err := run(*configPath, *outputDir, *maxTicks, *targetTicks, *seeds, *maxEvals, *population); err != nil {
		slog.Error("calibration failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, outputDir string, maxTicks, targetTicks uint64, seeds, maxEvals, population int) error {
	if outputDir == "" {
		return fmt.Errorf("-output is required")
	}
	if targetTicks == 0 || seeds < 1 {
		return fmt.Errorf("-target-ticks and -seeds must be positive")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	base, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	evalSeeds := make([]int64, seeds)
	for i := range evalSeeds {
		evalSeeds[i] = base.Scene.Seed + int64(i)*1000
	}
	ks := calibrationKnobs()
	cal := newCalibrator(ks, base, maxTicks, targetTicks, evalSeeds)

	logFile, err := os.Create(filepath.Join(outputDir, "calibration.csv"))
	if err != nil {
		return fmt.Errorf("create calibration log: %w", err)
	}
	defer logFile.Close()
	calLog := &calibrationLog{out: logFile}

	if population == 0 {
		population = 4 + int(3*math.Log(float64(len(ks))))
	}
	fmt.Printf("Calibrating %v: population %d, %d evaluations, %d seeds, target settle tick %d (cap %d)\n",
		ks.names(), population, maxEvals, seeds, targetTicks, maxTicks)

	best := evaluation{Fitness: math.Inf(1)}
	var bestVals []float64
	evals := 0
	start := time.Now()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			if ctx.Err() != nil {
				return math.Inf(1)
			}
			vals := ks.decode(x)
			ev := cal.evaluate(ctx, vals)
			evals++
			ev.Eval = evals
			if ev.Fitness < best.Fitness {
				best, bestVals = ev, vals
			}
			if err := calLog.append(ev); err != nil {
				slog.Warn("calibration log write failed", "error", err)
			}

			elapsed := time.Since(start)
			eta := time.Duration(maxEvals-evals) * (elapsed / time.Duration(evals))
			fmt.Printf("eval %d/%d  rate=%.3f rough=%.2f jitter=%.1f  settle=%.0f (%d unsettled)  drift=%.2g  changes/cell=%.3f  fitness=%.4f  best=%.4f  eta %s\n",
				evals, maxEvals, ev.FlowRate, ev.Roughness, ev.Jitter, ev.SettleTick, ev.Unsettled,
				ev.Drift, ev.Changes, ev.Fitness, best.Fitness, eta.Round(time.Second))
			return ev.Fitness
		},
	}
	settings := &optimize.Settings{FuncEvaluations: maxEvals}
	method := &optimize.CmaEsChol{InitStepSize: 0.3, Population: population}

	if _, err := optimize.Minimize(problem, ks.encode(base), settings, method); err != nil {
		slog.Info("search stopped", "reason", err)
	}
	if bestVals == nil {
		return fmt.Errorf("no evaluation completed")
	}

	fmt.Printf("\n%d evaluations in %s\n", evals, time.Since(start).Round(time.Second))
	fmt.Printf("best: flow_rate=%.4f roughness=%.3f jitter=%.2f  settle tick %.0f, drift %.2g, fitness %.4f\n",
		best.FlowRate, best.Roughness, best.Jitter, best.SettleTick, best.Drift, best.Fitness)

	out := *base
	ks.apply(&out, bestVals)
	path := filepath.Join(outputDir, "best_config.yaml")
	if err := out.WriteYAML(path); err != nil {
		return fmt.Errorf("write best config: %w", err)
	}
	fmt.Printf("Best config saved to: %s\n", path)
	return nil
}

// calibrationLog appends evaluations as CSV rows, header first.
type calibrationLog struct {
	out           *os.File
	headerWritten bool
}

func (l *calibrationLog) append(ev evaluation) error {
	rows := []evaluation{ev}
	if !l.headerWritten {
		l.headerWritten = true
		return gocsv.Marshal(rows, l.out)
	}
	return gocsv.MarshalWithoutHeaders(rows, l.out)
}
