package material

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
)

//go:embed materials.csv
var defaultCatalog []byte

// ErrUnknownMaterial is returned when a name does not resolve in a registry.
var ErrUnknownMaterial = errors.New("unknown material")

// ErrInvalidCatalog wraps every catalog validation failure.
var ErrInvalidCatalog = errors.New("invalid material catalog")

// Row is one line of a material catalog. Fields a phase does not use are left blank.
type Row struct {
	Name        string    `csv:"name"`
	Comment     string    `csv:"comment"`
	Phase       string    `csv:"phase"`
	MolarMass   float64   `csv:"molar_mass"`
	HotTemp     Threshold `csv:"hot_temp"`
	HotProduct  string    `csv:"hot_product"`
	ColdTemp    Threshold `csv:"cold_temp"`
	ColdProduct string    `csv:"cold_product"`
}

// Threshold is a transition temperature cell that may be left blank. A blank
// cell is unset rather than zero, so a missing threshold fails the load.
type Threshold struct {
	Value float64
	Set   bool
}

// At returns a threshold set to v.
func At(v float64) Threshold { return Threshold{Value: v, Set: true} }

func (t *Threshold) UnmarshalCSV(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*t = Threshold{}
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*t = At(v)
	return nil
}

func (t Threshold) MarshalCSV() (string, error) {
	if !t.Set {
		return "", nil
	}
	return strconv.FormatFloat(t.Value, 'g', -1, 64), nil
}

// require returns the threshold value, or an error naming column if it is
// blank or NaN.
func (t Threshold) require(name string, phase Phase, column string) (float64, error) {
	if !t.Set || math.IsNaN(t.Value) {
		return 0, fmt.Errorf("%w: %s: %s material requires %s", ErrInvalidCatalog, name, phase, column)
	}
	return t.Value, nil
}

// Registry is an immutable name → material catalog. It is safe for concurrent use.
type Registry struct {
	byName map[string]*Material
	slots  []*Material
	void   *Material
}

// Load parses and validates a CSV catalog.
func Load(r io.Reader) (*Registry, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1 // trailing blank columns may be dropped

	var rows []Row
	if err := gocsv.UnmarshalCSV(cr, &rows); err != nil {
		return nil, fmt.Errorf("%w: parsing: %v", ErrInvalidCatalog, err)
	}
	return FromRows(rows)
}

// LoadFile loads a catalog from a CSV file.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// MustLoad is like Load but panics on error. A broken catalog is a deployment error.
func MustLoad(r io.Reader) *Registry {
	reg, err := Load(r)
	if err != nil {
		panic(fmt.Sprintf("material: %v", err))
	}
	return reg
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the registry built from the embedded catalog. It panics if the
// embedded catalog is invalid.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = MustLoad(bytes.NewReader(defaultCatalog))
	})
	return defaultReg
}

// FromRows builds a registry from already decoded rows.
func FromRows(rows []Row) (*Registry, error) {
	reg := &Registry{
		byName: make(map[string]*Material, len(rows)),
		slots:  make([]*Material, 0, len(rows)),
	}

	// First pass: create materials so products can refer forward.
	for i := range rows {
		row := &rows[i]
		row.Name = strings.TrimSpace(row.Name)
		row.HotProduct = strings.TrimSpace(row.HotProduct)
		row.ColdProduct = strings.TrimSpace(row.ColdProduct)

		if row.Name == "" {
			return nil, fmt.Errorf("%w: row %d: empty name", ErrInvalidCatalog, i+1)
		}
		if _, dup := reg.byName[row.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate material %q", ErrInvalidCatalog, row.Name)
		}
		phase, err := ParsePhase(strings.ToLower(strings.TrimSpace(row.Phase)))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, row.Name, err)
		}

		m := &Material{
			name:    row.Name,
			comment: strings.TrimSpace(row.Comment),
			phase:   phase,
			slot:    len(reg.slots),
		}
		switch phase {
		case Gas:
			if !(row.MolarMass > 0) || math.IsInf(row.MolarMass, 0) {
				return nil, fmt.Errorf("%w: %s: gas needs a positive molar_mass", ErrInvalidCatalog, row.Name)
			}
			m.molarMass = row.MolarMass
			m.coldTemp, err = row.ColdTemp.require(m.name, phase, "cold_temp")
		case Liquid:
			if m.hotTemp, err = row.HotTemp.require(m.name, phase, "hot_temp"); err == nil {
				m.coldTemp, err = row.ColdTemp.require(m.name, phase, "cold_temp")
			}
		case Solid:
			m.hotTemp, err = row.HotTemp.require(m.name, phase, "hot_temp")
		}
		if err != nil {
			return nil, err
		}
		reg.byName[m.name] = m
		reg.slots = append(reg.slots, m)
	}

	// Second pass: resolve every product the phase requires.
	for i, m := range reg.slots {
		row := rows[i]
		var err error
		switch m.phase {
		case Gas:
			m.cold, err = reg.product(m, "cold_product", row.ColdProduct)
		case Liquid:
			if m.cold, err = reg.product(m, "cold_product", row.ColdProduct); err == nil {
				m.hot, err = reg.product(m, "hot_product", row.HotProduct)
			}
		case Solid:
			m.hot, err = reg.product(m, "hot_product", row.HotProduct)
		}
		if err != nil {
			return nil, err
		}
	}

	void, ok := reg.byName[VoidName]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q material", ErrInvalidCatalog, VoidName)
	}
	reg.void = void
	return reg, nil
}

func (r *Registry) product(m *Material, column, name string) (*Material, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: %s: %s material requires %s", ErrInvalidCatalog, m.name, m.phase, column)
	}
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s: %s %q does not exist", ErrInvalidCatalog, m.name, column, name)
	}
	return p, nil
}

// Get returns the named material.
func (r *Registry) Get(name string) (*Material, error) {
	m, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMaterial, name)
	}
	return m, nil
}

// Void returns the empty material.
func (r *Registry) Void() *Material { return r.void }

// Len returns the number of materials.
func (r *Registry) Len() int { return len(r.slots) }

// All returns the materials in catalog order.
func (r *Registry) All() []*Material {
	return append([]*Material(nil), r.slots...)
}

// Names returns the material names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rows converts the registry back into catalog rows, in catalog order.
func (r *Registry) Rows() []Row {
	rows := make([]Row, len(r.slots))
	for i, m := range r.slots {
		rows[i] = Row{
			Name:    m.name,
			Comment: m.comment,
			Phase:   m.phase.String(),
		}
		switch m.phase {
		case Gas:
			rows[i].MolarMass = m.molarMass
			rows[i].ColdTemp, rows[i].ColdProduct = At(m.coldTemp), m.cold.name
		case Liquid:
			rows[i].HotTemp, rows[i].HotProduct = At(m.hotTemp), m.hot.name
			rows[i].ColdTemp, rows[i].ColdProduct = At(m.coldTemp), m.cold.name
		case Solid:
			rows[i].HotTemp, rows[i].HotProduct = At(m.hotTemp), m.hot.name
		}
	}
	return rows
}

// WriteCSV writes the catalog as CSV with a header row.
func (r *Registry) WriteCSV(w io.Writer) error {
	if err := gocsv.Marshal(r.Rows(), w); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	return nil
}
