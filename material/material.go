// Package material provides the immutable catalog of substances a cell can hold.
//
// Materials are loaded once from tabular data and never mutated. Each material is
// handed out as a shared *Material; two handles denote the same material iff the
// pointers are equal.
package material

import "fmt"

// Phase is the state of matter of a material.
type Phase uint8

const (
	Solid Phase = iota
	Liquid
	Gas
)

func (p Phase) String() string {
	switch p {
	case Solid:
		return "solid"
	case Liquid:
		return "liquid"
	case Gas:
		return "gas"
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// ParsePhase converts a catalog phase tag into a Phase.
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "solid":
		return Solid, nil
	case "liquid":
		return Liquid, nil
	case "gas":
		return Gas, nil
	}
	return 0, fmt.Errorf("unknown phase %q", s)
}

// Physical constants for the ideal gas law.
const (
	GasConstant = 8.314  // J/(mol·K)
	KelvinShift = 273.15 // °C → K
)

// VoidName is the catalog name of the distinguished empty material.
const VoidName = "void"

// Material is an immutable substance definition.
type Material struct {
	name    string
	comment string
	phase   Phase
	slot    int

	molarMass float64 // gas only
	hotTemp   float64 // liquid, solid
	coldTemp  float64 // gas, liquid

	hot  *Material // resolved hot product
	cold *Material // resolved cold product
}

func (m *Material) Name() string    { return m.name }
func (m *Material) Comment() string { return m.comment }
func (m *Material) Phase() Phase    { return m.phase }

// Slot is the material's position in its catalog.
func (m *Material) Slot() int { return m.slot }

func (m *Material) IsGas() bool    { return m.phase == Gas }
func (m *Material) IsLiquid() bool { return m.phase == Liquid }
func (m *Material) IsSolid() bool  { return m.phase == Solid }
func (m *Material) IsVoid() bool   { return m.name == VoidName }

// MolarMass returns the molar mass in g/mol, or 0 for non-gas materials.
func (m *Material) MolarMass() float64 { return m.molarMass }

// HotThreshold returns the temperature above which the material turns into its
// hot product. ok is false for gases.
func (m *Material) HotThreshold() (temp float64, ok bool) {
	return m.hotTemp, m.hot != nil
}

// ColdThreshold returns the temperature below which the material turns into its
// cold product. ok is false for solids.
func (m *Material) ColdThreshold() (temp float64, ok bool) {
	return m.coldTemp, m.cold != nil
}

// HotProduct returns what the material becomes when overheated, or nil.
func (m *Material) HotProduct() *Material { return m.hot }

// ColdProduct returns what the material becomes when overcooled, or nil.
func (m *Material) ColdProduct() *Material { return m.cold }

// CheckTransition returns the material this one turns into at temp, or nil if
// temp is within its stable range. Liquids test the cold threshold first.
func (m *Material) CheckTransition(temp float64) *Material {
	switch m.phase {
	case Gas:
		if temp < m.coldTemp {
			return m.cold
		}
	case Liquid:
		if temp < m.coldTemp {
			return m.cold
		}
		if temp > m.hotTemp {
			return m.hot
		}
	case Solid:
		if temp > m.hotTemp {
			return m.hot
		}
	}
	return nil
}

// GasPressure returns the ideal gas pressure of mass at temp (°C) in volume.
// ok is false for non-gas materials.
func (m *Material) GasPressure(mass, temp, volume float64) (pressure float64, ok bool) {
	if m.phase != Gas {
		return 0, false
	}
	moles := mass / m.molarMass
	return moles * GasConstant * (temp + KelvinShift) / volume, true
}

func (m *Material) String() string {
	if m == nil {
		return "<nil>"
	}
	return m.name
}
