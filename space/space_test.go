package space

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pthm-cable/cellspace/cell"
	"github.com/pthm-cable/cellspace/geom"
	"github.com/pthm-cable/cellspace/material"
	"github.com/pthm-cable/cellspace/spatial"
)

// In this catalog one unit of "ideal" at -272.15 °C (1 K) has pressure 1.
const testCatalog = `name,comment,phase,molar_mass,hot_temp,hot_product,cold_temp,cold_product
void,nothing,solid,,inf,void,,
ideal,unit gas,gas,8.314,,,-1000,frost
frost,frozen ideal gas,solid,,-1000,ideal,,
steam,water vapour,gas,18.015,,,100,water
water,liquid water,liquid,,100,steam,0,ice
ice,frozen water,solid,,0,water,,
rock,basalt,solid,,1200,rock,,
`

const oneKelvin = 1 - material.KelvinShift

func testRegistry(t *testing.T) *material.Registry {
	t.Helper()
	reg, err := material.Load(strings.NewReader(testCatalog))
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}
	return reg
}

func mustAdd(t *testing.T, s *Space, x, y float64, name string, mass, temp float64) cell.ID {
	t.Helper()
	c, err := s.NewCell(geom.Pos(x, y), name, mass, temp)
	if err != nil {
		t.Fatalf("NewCell(%s): %v", name, err)
	}
	id, err := s.Add(context.Background(), c)
	if err != nil {
		t.Fatalf("Add(%v): %v", c.Pos, err)
	}
	return id
}

func load(t *testing.T, h *Handle) cell.Cell {
	t.Helper()
	if h == nil {
		t.Fatal("nil handle")
	}
	c, err := h.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestAddAssignsIDsAndIndexes(t *testing.T) {
	ctx := context.Background()
	s := New(testRegistry(t))
	defer s.Close()

	a := mustAdd(t, s, 0, 0, "rock", 1, 20)
	b := mustAdd(t, s, 1, 0, "rock", 2, 20)
	if a != 0 || b != 1 {
		t.Errorf("ids = %d, %d, want 0, 1", a, b)
	}

	h, err := s.GetByPosition(ctx, geom.Pos(1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if c := load(t, h); c.ID != b || c.Mass() != 2 {
		t.Errorf("GetByPosition got %v", c)
	}

	if h, _ := s.GetByPosition(ctx, geom.Pos(5, 5)); h != nil {
		t.Error("expected nil for empty position")
	}
	if h, _ := s.GetByID(ctx, 99); h != nil {
		t.Error("expected nil for unknown id")
	}

	c, _ := s.NewCell(geom.Pos(0, 0), "rock", 1, 20)
	if _, err := s.Add(ctx, c); !errors.Is(err, spatial.ErrOccupied) {
		t.Errorf("expected ErrOccupied, got %v", err)
	}
	if n, _ := s.Len(ctx); n != 2 {
		t.Errorf("Len = %d after rejected add, want 2", n)
	}
}

func TestAddRejectsForeignCells(t *testing.T) {
	ctx := context.Background()
	s := New(testRegistry(t))

	if _, err := s.Add(ctx, cell.Cell{}); !errors.Is(err, ErrForeignCell) {
		t.Errorf("zero cell: expected ErrForeignCell, got %v", err)
	}
	// same catalog text, different registry instance
	other, err := cell.New(testRegistry(t), geom.Pos(0, 0), "rock", 1, 20)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(ctx, other); !errors.Is(err, ErrForeignCell) {
		t.Errorf("foreign registry: expected ErrForeignCell, got %v", err)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("Len = %d after rejected adds, want 0", n)
	}
	if _, err := s.Census(ctx); err != nil {
		t.Errorf("Census after rejected adds: %v", err)
	}
	if next := s.Allocator().Peek(); next != 0 {
		t.Errorf("rejected adds consumed ids, next = %d", next)
	}
}

func TestSetFlowRateClamps(t *testing.T) {
	s := New(testRegistry(t))
	s.SetFlowRate(2)
	if got := s.FlowRate(); got != 1 {
		t.Errorf("FlowRate = %v, want 1", got)
	}
	s.SetFlowRate(-1)
	if got := s.FlowRate(); got != 0 {
		t.Errorf("FlowRate = %v, want 0", got)
	}
}

func TestRemoveFreesPosition(t *testing.T) {
	ctx := context.Background()
	s := New(testRegistry(t))
	id := mustAdd(t, s, 3, 3, "rock", 1, 20)

	h, err := s.Remove(ctx, id)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// the detached handle stays usable
	if c := load(t, h); c.ID != id {
		t.Errorf("detached handle holds %d, want %d", c.ID, id)
	}
	if h, _ := s.GetByPosition(ctx, geom.Pos(3, 3)); h != nil {
		t.Error("removed cell still found by position")
	}
	if h, _ := s.GetByID(ctx, id); h != nil {
		t.Error("removed cell still found by id")
	}
	if _, err := s.Remove(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove: got %v, want ErrNotFound", err)
	}

	again := mustAdd(t, s, 3, 3, "rock", 1, 20)
	if again == id {
		t.Error("id reused after removal")
	}
}

func TestNearestQueries(t *testing.T) {
	ctx := context.Background()
	s := New(testRegistry(t))

	if h, err := s.GetNearestByPosition(ctx, geom.Pos(0, 0)); h != nil || err != nil {
		t.Errorf("empty space: got %v, %v", h, err)
	}

	east := mustAdd(t, s, 1, 0, "rock", 1, 20)
	west := mustAdd(t, s, -1, 0, "rock", 1, 20)
	far := mustAdd(t, s, 10, 10, "rock", 1, 20)

	// equidistant: lowest id wins
	h, _ := s.GetNearestByPosition(ctx, geom.Pos(0, 0))
	if c := load(t, h); c.ID != east {
		t.Errorf("tie resolved to %d, want %d", c.ID, east)
	}
	h, _ = s.GetNearestByPosition(ctx, geom.Pos(-0.9, 0))
	if c := load(t, h); c.ID != west {
		t.Errorf("nearest = %d, want %d", c.ID, west)
	}
	h, _ = s.GetNearestByID(ctx, far)
	if c := load(t, h); c.ID != far {
		t.Errorf("nearest to own position = %d, want %d", c.ID, far)
	}
	if h, _ := s.GetNearestByID(ctx, 42); h != nil {
		t.Error("expected nil for unknown id")
	}
}

func TestIterWithinRange(t *testing.T) {
	ctx := context.Background()
	s := New(testRegistry(t))
	for x := -3; x <= 3; x++ {
		for y := -3; y <= 3; y++ {
			mustAdd(t, s, float64(x), float64(y), "rock", 1, 20)
		}
	}

	seq := s.IterWithinRange(ctx, geom.Pos(0, 0), 2)
	var got []Neighbour
	for n, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, n)
	}
	// lattice points with x²+y² ≤ 4
	if len(got) != 13 {
		t.Fatalf("got %d cells within range, want 13", len(got))
	}
	for i, n := range got {
		if n.DistSq > 4 {
			t.Errorf("cell %d at dist² %v outside range", n.ID, n.DistSq)
		}
		if i > 0 && got[i-1].DistSq > n.DistSq {
			t.Error("results not ordered by distance")
		}
	}
	if got[0].DistSq != 0 || got[0].Pos != geom.Pos(0, 0) {
		t.Errorf("first result = %v, want the origin", got[0].Pos)
	}

	for range seq {
		t.Fatal("sequence yielded on second use")
	}
}

func TestIterSkipsRemovedCells(t *testing.T) {
	ctx := context.Background()
	s := New(testRegistry(t))
	a := mustAdd(t, s, 0, 0, "rock", 1, 20)
	b := mustAdd(t, s, 1, 0, "rock", 1, 20)
	c := mustAdd(t, s, 2, 0, "rock", 1, 20)

	var seen []cell.ID
	for n, err := range s.IterNearPosition(ctx, geom.Pos(0, 0)) {
		if err != nil {
			t.Fatal(err)
		}
		seen = append(seen, n.ID)
		if n.ID == a {
			if _, err := s.Remove(ctx, b); err != nil {
				t.Fatal(err)
			}
		}
	}
	if len(seen) != 2 || seen[0] != a || seen[1] != c {
		t.Errorf("seen = %v, want [%d %d]", seen, a, c)
	}
}

func TestGetNeighbourByID(t *testing.T) {
	ctx := context.Background()
	s := New(testRegistry(t))
	centre := mustAdd(t, s, 0, 0, "rock", 1, 20)
	mustAdd(t, s, 0, 1, "rock", 1, 20)
	mustAdd(t, s, 1, -1, "rock", 1, 20)
	mustAdd(t, s, 2, 0, "rock", 1, 20) // not adjacent

	hs, found, err := s.GetNeighbourByID(ctx, centre)
	if err != nil || !found {
		t.Fatalf("GetNeighbourByID: %v, %v", found, err)
	}
	if len(hs) != 2 {
		t.Fatalf("got %d neighbours, want 2", len(hs))
	}
	if c := load(t, hs[0]); c.Pos != geom.Pos(0, 1) {
		t.Errorf("first neighbour at %v, want north", c.Pos)
	}

	if _, found, _ := s.GetNeighbourByID(ctx, 77); found {
		t.Error("expected found=false for unknown id")
	}
}

func TestGasForceEastNeighbour(t *testing.T) {
	ctx := context.Background()
	s := New(testRegistry(t))
	centre := mustAdd(t, s, 0, 0, "ideal", 1, oneKelvin)
	mustAdd(t, s, 1, 0, "ideal", 4, oneKelvin)

	c := load(t, mustGet(t, s, centre))
	f, ok, err := s.GasForce(ctx, c)
	if err != nil || !ok {
		t.Fatalf("GasForce: ok=%v err=%v", ok, err)
	}
	if !approx(f.X, 4) || f.Y != 0 {
		t.Errorf("force = %v, want (4, 0)", f)
	}
}

func TestGasForceIgnoresNonGas(t *testing.T) {
	ctx := context.Background()
	s := New(testRegistry(t))
	centre := mustAdd(t, s, 0, 0, "ideal", 1, oneKelvin)
	mustAdd(t, s, 1, 0, "rock", 100, 20)
	mustAdd(t, s, 0, 1, "ideal", 2, oneKelvin)
	mustAdd(t, s, -1, 0, "frost", 3, -1100)

	f, ok, err := s.GasForce(ctx, load(t, mustGet(t, s, centre)))
	if err != nil || !ok {
		t.Fatalf("GasForce: ok=%v err=%v", ok, err)
	}
	if f.X != 0 || !approx(f.Y, 2) {
		t.Errorf("force = %v, want (0, 2)", f)
	}

	rock, _ := s.GetByPosition(ctx, geom.Pos(1, 0))
	if _, ok, _ := s.GasForce(ctx, load(t, rock)); ok {
		t.Error("solid cell reported a gas force")
	}

	lone := New(testRegistry(t))
	id := mustAdd(t, lone, 0, 0, "ideal", 1, oneKelvin)
	f, ok, _ = lone.GasForce(ctx, load(t, mustGet(t, lone, id)))
	if !ok || f.X != 0 || f.Y != 0 {
		t.Errorf("isolated gas: got %v, %v, want zero vector", f, ok)
	}
}

func mustGet(t *testing.T, s *Space, id cell.ID) *Handle {
	t.Helper()
	h, err := s.GetByID(context.Background(), id)
	if err != nil || h == nil {
		t.Fatalf("GetByID(%d): %v, %v", id, h, err)
	}
	return h
}

func TestConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	s := New(testRegistry(t))

	const workers, each = 8, 50
	var wg sync.WaitGroup
	errs := make(chan error, workers*each)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				c, err := s.NewCell(geom.Pos(float64(w), float64(i)), "rock", 1, 20)
				if err != nil {
					errs <- err
					return
				}
				if _, err := s.Add(ctx, c); err != nil {
					errs <- err
				}
			}
		}()
	}
	// readers racing with the writers must only ever see fully added cells
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h, err := s.GetNearestByPosition(ctx, geom.Pos(3.5, 25))
				if err != nil {
					errs <- err
					return
				}
				if h == nil {
					continue
				}
				if _, err := h.Load(ctx); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	ids, _ := s.IDs(ctx)
	if len(ids) != workers*each {
		t.Fatalf("got %d cells, want %d", len(ids), workers*each)
	}
	for _, id := range ids {
		c := load(t, mustGet(t, s, id))
		h, _ := s.GetByPosition(ctx, c.Pos)
		if got := load(t, h); got.ID != id {
			t.Fatalf("position %v maps to %d, want %d", c.Pos, got.ID, id)
		}
	}
}

func TestLockTimeout(t *testing.T) {
	s := New(testRegistry(t), WithLockTimeout(20*time.Millisecond))
	if err := s.lock.Lock(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.lock.Unlock()

	c, _ := s.NewCell(geom.Pos(0, 0), "rock", 1, 20)
	_, err := s.Add(context.Background(), c)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestCensus(t *testing.T) {
	s := New(testRegistry(t))
	mustAdd(t, s, 0, 0, "steam", 2, 150)
	mustAdd(t, s, 1, 0, "water", 3, 20)
	mustAdd(t, s, 2, 0, "rock", 5, 20)
	mustAdd(t, s, 3, 0, "void", 0, 0)

	c, err := s.Census(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.Cells != 4 || c.Gas != 1 || c.Liquid != 1 || c.Solid != 1 || c.Void != 1 {
		t.Errorf("census counts = %+v", c)
	}
	if c.Mass != 10 {
		t.Errorf("mass = %v, want 10", c.Mass)
	}
	wantHeat := 2*(150+material.KelvinShift) + 3*(20+material.KelvinShift) + 5*(20+material.KelvinShift)
	if !approx(c.Heat, wantHeat) {
		t.Errorf("heat = %v, want %v", c.Heat, wantHeat)
	}
	if c.MaxPressure <= 0 {
		t.Errorf("max pressure = %v, want > 0", c.MaxPressure)
	}
	if c.ByMaterial["steam"] != 1 {
		t.Errorf("by material = %v", c.ByMaterial)
	}
}

func ExampleSpace_GasForce() {
	reg := material.MustLoad(strings.NewReader(testCatalog))
	s := New(reg)
	ctx := context.Background()

	c, _ := s.NewCell(geom.Pos(0, 0), "ideal", 1, oneKelvin)
	id, _ := s.Add(ctx, c)
	east, _ := s.NewCell(geom.Pos(1, 0), "ideal", 4, oneKelvin)
	s.Add(ctx, east)

	h, _ := s.GetByID(ctx, id)
	centre, _ := h.Load(ctx)
	f, ok, _ := s.GasForce(ctx, centre)
	fmt.Printf("%.3f %.3f %v\n", f.X, f.Y, ok)
	// Output: 4.000 0.000 true
}
