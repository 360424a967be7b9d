// Scene preview tool - renders a generated scene and steps gas flow live.
//
// Usage: go run ./cmd/scenepreview [-config config.yaml] [-out scene.png -ticks 100]
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"log/slog"
	"os"

	gui "github.com/gen2brain/raylib-go/raygui"
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/cellspace/config"
	"github.com/pthm-cable/cellspace/material"
	"github.com/pthm-cable/cellspace/scene"
	"github.com/pthm-cable/cellspace/space"
)

const (
	windowWidth  = 1000
	windowHeight = 720
	previewSize  = 680
	panelX       = previewSize + 20
	panelWidth   = windowWidth - panelX - 20
)

// preview holds the scene being shown and how it is drawn.
type preview struct {
	cfg   *config.Config
	reg   *material.Registry
	space *space.Space
	mode  colorMode
	ticks uint64

	pixels []color.RGBA
}

func newPreview(cfg *config.Config) (*preview, error) {
	reg := material.Default()
	if cfg.Materials.Catalog != "" {
		var err error
		if reg, err = material.LoadFile(cfg.Materials.Catalog); err != nil {
			return nil, err
		}
	}
	return &preview{
		cfg:    cfg,
		reg:    reg,
		pixels: make([]color.RGBA, cfg.Scene.Width*cfg.Scene.Height),
	}, nil
}

// regenerate builds a fresh space from the current scene parameters.
func (p *preview) regenerate(ctx context.Context) error {
	if p.space != nil {
		p.space.Close()
	}
	p.space = space.New(p.reg,
		space.WithFlowRate(p.cfg.Flow.Rate),
		space.WithParallelThreshold(p.cfg.Engine.ParallelThreshold),
	)
	p.ticks = 0
	_, err := scene.Generate(ctx, p.space, p.cfg.Scene)
	return err
}

func (p *preview) step(ctx context.Context) error {
	if _, err := p.space.Tick(ctx); err != nil {
		return err
	}
	p.ticks++
	return nil
}

// paint fills pixels from the space, top row first.
func (p *preview) paint(ctx context.Context) error {
	packed, err := p.space.Pack(ctx)
	if err != nil {
		return err
	}
	w, h := p.cfg.Scene.Width, p.cfg.Scene.Height
	for _, st := range packed.Cells {
		x, y := int(st.X), int(st.Y)
		if x < 0 || x >= w || y < 0 || y >= h {
			continue
		}
		p.pixels[(h-1-y)*w+x] = cellColor(p.reg, st, p.mode)
	}
	return nil
}

// export writes the current frame to a PNG, scaled up by an integer factor.
func (p *preview) export(path string, scale int) error {
	w, h := p.cfg.Scene.Width, p.cfg.Scene.Height
	img := rl.GenImageColor(w, h, rl.Black)
	defer rl.UnloadImage(img)
	for i, c := range p.pixels {
		rl.ImageDrawPixel(img, int32(i%w), int32(i/w), c)
	}
	if scale > 1 {
		rl.ImageResizeNN(img, int32(w*scale), int32(h*scale))
	}
	if !rl.ExportImage(*img, path) {
		return fmt.Errorf("failed to export %s", path)
	}
	return nil
}

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	outPath := flag.String("out", "", "Export a PNG instead of opening a window")
	ticks := flag.Int("ticks", 0, "Ticks to run before exporting")
	scale := flag.Int("scale", 8, "Pixels per cell in the exported PNG")
	heat := flag.Bool("heat", false, "Colour by temperature instead of material")
	phase := flag.Bool("phase", false, "Colour by phase instead of material")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	p, err := newPreview(cfg)
	if err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}
	switch {
	case *heat:
		p.mode = byHeat
	case *phase:
		p.mode = byPhase
	}
	if err := p.regenerate(ctx); err != nil {
		slog.Error("failed to generate scene", "error", err)
		os.Exit(1)
	}
	defer p.space.Close()

	if *outPath != "" {
		for range *ticks {
			if err := p.step(ctx); err != nil {
				slog.Error("tick failed", "error", err)
				os.Exit(1)
			}
		}
		if err := p.paint(ctx); err != nil {
			slog.Error("failed to pack space", "error", err)
			os.Exit(1)
		}
		if err := p.export(*outPath, *scale); err != nil {
			slog.Error("export failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Scene rendered to: %s (%dx%d cells, %d ticks)\n", *outPath, cfg.Scene.Width, cfg.Scene.Height, p.ticks)
		return
	}

	if err := p.run(ctx); err != nil {
		slog.Error("preview failed", "error", err)
		os.Exit(1)
	}
}

// run opens the interactive window.
func (p *preview) run(ctx context.Context) error {
	rl.InitWindow(windowWidth, windowHeight, "Scene Preview")
	defer rl.CloseWindow()
	rl.SetTargetFPS(30)

	sc := &p.cfg.Scene
	img := rl.GenImageColor(sc.Width, sc.Height, rl.Black)
	texture := rl.LoadTextureFromImage(img)
	rl.UnloadImage(img)
	defer rl.UnloadTexture(texture)

	// Fit the scene into the preview square, keeping cells square.
	cellSize := min(float32(previewSize)/float32(sc.Width), float32(previewSize)/float32(sc.Height))
	destW, destH := cellSize*float32(sc.Width), cellSize*float32(sc.Height)

	running := false
	for !rl.WindowShouldClose() {
		regen := false
		stepOnce := rl.IsKeyPressed(rl.KeyT)
		if rl.IsKeyPressed(rl.KeySpace) {
			running = !running
		}
		if rl.IsKeyPressed(rl.KeyN) {
			sc.Seed++
			regen = true
		}
		if rl.IsKeyPressed(rl.KeyC) {
			sc.CaveThreshold = nextCaveThreshold(sc.CaveThreshold)
			regen = true
		}

		rl.BeginDrawing()
		rl.ClearBackground(rl.RayWhite)

		// Control panel
		x := float32(panelX)
		y := float32(10)
		sliderW := float32(panelWidth - 60)
		label := func(size int32, col color.RGBA, format string, args ...any) {
			rl.DrawText(fmt.Sprintf(format, args...), int32(x), int32(y), size, col)
			y += float32(size) + 6
		}
		slider := func(title, lo, hi string, value, minV, maxV float32) float32 {
			label(14, rl.Gray, "%s", title)
			v := gui.SliderBar(rl.Rectangle{X: x, Y: y, Width: sliderW, Height: 20}, lo, hi, value, minV, maxV)
			rl.DrawText(fmt.Sprintf("%.2f", v), int32(x+sliderW+8), int32(y+2), 16, rl.DarkGray)
			y += 30
			return v
		}

		label(20, rl.DarkGray, "Flow")
		rate := slider("Flow rate (share of mass moved per tick)", "0", "1", float32(p.space.FlowRate()), 0, 1)
		if rate != float32(p.space.FlowRate()) {
			p.space.SetFlowRate(float64(rate))
			p.cfg.Flow.Rate = p.space.FlowRate()
		}

		label(20, rl.DarkGray, "Scene")
		label(14, rl.Gray, "seed: %d   cave threshold: %.2f", sc.Seed, sc.CaveThreshold)
		if r := slider("Roughness (layer boundary displacement, cells)", "0", "10", float32(sc.Roughness), 0, 10); r != float32(sc.Roughness) {
			sc.Roughness = float64(r)
			regen = true
		}
		if j := slider("Jitter (temperature noise, °C)", "0", "100", float32(sc.Jitter), 0, 100); j != float32(sc.Jitter) {
			sc.Jitter = float64(j)
			regen = true
		}

		if gui.Button(rl.Rectangle{X: x, Y: y, Width: 120, Height: 30}, toggleText(running, "Pause", "Run")) {
			running = !running
		}
		if gui.Button(rl.Rectangle{X: x + 130, Y: y, Width: 120, Height: 30}, "Step") {
			stepOnce = true
		}
		y += 40
		if gui.Button(rl.Rectangle{X: x, Y: y, Width: 120, Height: 30}, "Random Seed") {
			sc.Seed = int64(rl.GetRandomValue(0, 99999))
			regen = true
		}
		if gui.Button(rl.Rectangle{X: x + 130, Y: y, Width: 120, Height: 30}, "View: "+p.mode.String()) {
			p.mode = p.mode.next()
		}
		y += 45

		if regen {
			if err := p.regenerate(ctx); err != nil {
				rl.EndDrawing()
				return err
			}
		}
		if running || stepOnce {
			if err := p.step(ctx); err != nil {
				rl.EndDrawing()
				return err
			}
		}
		if err := p.paint(ctx); err != nil {
			rl.EndDrawing()
			return err
		}
		rl.UpdateTexture(texture, p.pixels)

		census, err := p.space.Census(ctx)
		if err != nil {
			rl.EndDrawing()
			return err
		}

		rl.DrawTexturePro(
			texture,
			rl.Rectangle{X: 0, Y: 0, Width: float32(sc.Width), Height: float32(sc.Height)},
			rl.Rectangle{X: 10, Y: 10, Width: destW, Height: destH},
			rl.Vector2{X: 0, Y: 0},
			0,
			rl.White,
		)
		rl.DrawRectangleLines(10, 10, int32(destW), int32(destH), rl.DarkGray)

		label(20, rl.DarkGray, "Space")
		label(14, rl.Gray, "tick: %d %s", p.ticks, toggleText(running, "(running)", "(paused)"))
		label(14, rl.Gray, "cells: %d", census.Cells)
		label(14, rl.Gray, "gas %d  liquid %d  solid %d  void %d", census.Gas, census.Liquid, census.Solid, census.Void)
		label(14, rl.Gray, "mass: %.3f", census.Mass)
		label(14, rl.Gray, "max pressure: %.2f", census.MaxPressure)
		y += 10
		label(14, rl.Gray, "space run/pause, T tick, N next seed, C caves")

		rl.EndDrawing()
	}
	return nil
}

var caveThresholds = []float64{0, 0.45, 0.5, 0.55, 0.6, 0.7}

func nextCaveThreshold(cur float64) float64 {
	for _, t := range caveThresholds {
		if t > cur+1e-9 {
			return t
		}
	}
	return caveThresholds[0]
}

func toggleText(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
