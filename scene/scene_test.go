package scene

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/pthm-cable/cellspace/config"
	"github.com/pthm-cable/cellspace/geom"
	"github.com/pthm-cable/cellspace/material"
	"github.com/pthm-cable/cellspace/space"
)

func flatScene() config.SceneConfig {
	return config.SceneConfig{
		Width:  8,
		Height: 10,
		Seed:   3,
		Scale:  0.1,
		Layers: []config.LayerConfig{
			{Material: "rock", Top: 0.3, Mass: 10, Temperature: 20},
			{Material: "water", Top: 0.5, Mass: 4, Temperature: 12},
		},
	}
}

func TestGeneratorFlatLayers(t *testing.T) {
	g := NewGenerator(flatScene())
	for x := range 8 {
		for y := range 10 {
			spec := g.At(x, y)
			var want string
			switch {
			case y < 3:
				want = "rock"
			case y < 5:
				want = "water"
			default:
				want = material.VoidName
			}
			if spec.Material != want {
				t.Errorf("At(%d, %d) = %s, want %s", x, y, spec.Material, want)
			}
		}
	}
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	s := space.New(material.Default())
	defer s.Close()

	st, err := Generate(ctx, s, flatScene())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if st.Cells != 80 || st.Caves != 0 {
		t.Errorf("stats = %+v, want 80 cells, no caves", st)
	}
	if !reflect.DeepEqual(st.ByLayer, []int{24, 16}) {
		t.Errorf("by layer = %v, want [24 16]", st.ByLayer)
	}
	if n, _ := s.Len(ctx); n != 80 {
		t.Errorf("space holds %d cells, want 80", n)
	}

	h, err := s.GetByPosition(ctx, geom.Pos(0, 0))
	if err != nil || h == nil {
		t.Fatalf("GetByPosition(0, 0): %v, %v", h, err)
	}
	c, _ := h.Load(ctx)
	if c.Material().Name() != "rock" || c.Temperature() != 20 {
		t.Errorf("bottom cell = %v, want rock at 20", c)
	}
	if c.ID != 0 {
		t.Errorf("bottom-left id = %d, want 0", c.ID)
	}

	h, _ = s.GetByPosition(ctx, geom.Pos(7, 9))
	c, _ = h.Load(ctx)
	if !c.IsVoid() {
		t.Errorf("top cell = %v, want void", c)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}

	pack := func(sc config.SceneConfig) *space.Packed {
		s := space.New(material.Default())
		defer s.Close()
		if _, err := Generate(ctx, s, sc); err != nil {
			t.Fatalf("Generate: %v", err)
		}
		p, err := s.Pack(ctx)
		if err != nil {
			t.Fatal(err)
		}
		return p
	}

	a, b := pack(cfg.Scene), pack(cfg.Scene)
	if !reflect.DeepEqual(a, b) {
		t.Error("same seed produced different scenes")
	}
	if len(a.Cells) != cfg.Derived.Cells {
		t.Errorf("got %d cells, want %d", len(a.Cells), cfg.Derived.Cells)
	}

	other := cfg.Scene
	other.Seed++
	if reflect.DeepEqual(a, pack(other)) {
		t.Error("different seeds produced identical scenes")
	}
}

func TestCaves(t *testing.T) {
	sc := config.SceneConfig{
		Width: 40, Height: 40, Seed: 9, Scale: 0.1, CaveThreshold: 0.5,
		Layers: []config.LayerConfig{{Material: "rock", Top: 1, Mass: 10, Temperature: 20, Caves: true}},
	}
	g := NewGenerator(sc)
	caves := 0
	for x := range sc.Width {
		for y := range sc.Height {
			spec := g.At(x, y)
			if spec.Cave {
				caves++
				if spec.Material != material.VoidName || spec.Mass != 0 {
					t.Fatalf("cave at (%d, %d) = %+v", x, y, spec)
				}
			}
		}
	}
	if caves == 0 || caves == sc.Width*sc.Height {
		t.Errorf("caves = %d of %d, want some but not all", caves, sc.Width*sc.Height)
	}

	sc.CaveThreshold = 0
	g = NewGenerator(sc)
	for x := range sc.Width {
		for y := range sc.Height {
			if g.At(x, y).Cave {
				t.Fatalf("cave at (%d, %d) with caves disabled", x, y)
			}
		}
	}
}

func TestJitterBounded(t *testing.T) {
	sc := flatScene()
	sc.Jitter = 10
	g := NewGenerator(sc)
	varied := false
	for x := range sc.Width {
		for y := range 3 {
			temp := g.At(x, y).Temperature
			if math.Abs(temp-20) > 10+1e-9 {
				t.Errorf("At(%d, %d) temperature %v outside 20±10", x, y, temp)
			}
			if temp != 20 {
				varied = true
			}
		}
	}
	if !varied {
		t.Error("jitter left every temperature unchanged")
	}
}

func TestGenerateUnknownMaterial(t *testing.T) {
	s := space.New(material.Default())
	defer s.Close()
	sc := flatScene()
	sc.Layers[1].Material = "mithril"

	_, err := Generate(context.Background(), s, sc)
	if !errors.Is(err, material.ErrUnknownMaterial) {
		t.Errorf("err = %v, want ErrUnknownMaterial", err)
	}
	if n, _ := s.Len(context.Background()); n != 0 {
		t.Errorf("space holds %d cells after a rejected scene", n)
	}
}

func TestPerlinLatticeZero(t *testing.T) {
	p := newPerlin(42)
	for _, pt := range [][2]float64{{0, 0}, {3, 7}, {-2, 5}} {
		if v := p.noise2D(pt[0], pt[1]); v != 0 {
			t.Errorf("noise2D(%v) = %v, want 0", pt, v)
		}
	}
	if a, b := p.fbm(1.3, 2.7, 3), newPerlin(42).fbm(1.3, 2.7, 3); a != b {
		t.Errorf("fbm not deterministic: %v != %v", a, b)
	}
}
