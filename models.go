package genesys

import (
	"fmt"
	"strconv"
	"strings"
)

// Range is an inclusive [Min, Max] interval of volts or amperes.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("[%.3f, %.3f]", r.Min, r.Max)
}

// Identity is the parsed IDN? reply, e.g. "LAMBDA,GEN40-38": a GEN40-38 is
// rated for 40 volts and 38 amperes.
type Identity struct {
	Raw     string
	Model   string
	Voltage float64
	Current float64
}

// ParseIdentity extracts the model and its ratings from an IDN? payload.
func ParseIdentity(raw string) (Identity, error) {
	i := strings.Index(raw, "GEN")
	if i < 0 {
		return Identity{}, fmt.Errorf("genesys: unrecognized identity %q", raw)
	}
	model := strings.TrimSpace(raw[i:])

	rating := strings.TrimPrefix(model, "GEN")
	dash := strings.Index(rating, "-")
	if dash < 0 {
		return Identity{}, fmt.Errorf("genesys: unrecognized model %q", model)
	}

	volts, err := strconv.ParseFloat(rating[:dash], 64)
	if err != nil {
		return Identity{}, fmt.Errorf("genesys: bad voltage rating in %q: %w", model, err)
	}
	amps, err := strconv.ParseFloat(rating[dash+1:], 64)
	if err != nil {
		return Identity{}, fmt.Errorf("genesys: bad current rating in %q: %w", model, err)
	}

	return Identity{Raw: raw, Model: model, Voltage: volts, Current: amps}, nil
}

// Ratings are the per-model programming limits derived from the identity
// and the manual's OVP/UVL tables.
type Ratings struct {
	Voltage      Range
	Current      Range
	OverVoltage  Range
	UnderVoltage Range
}

// OVP programming limits per voltage class, manual table 7.6.
var ovpLimits = map[string]Range{
	"GEN6":    {0.5, 7.5},
	"GEN8":    {0.5, 10},
	"GEN12.5": {1, 15},
	"GEN20":   {1, 24},
	"GEN30":   {2, 36},
	"GEN40":   {2, 44},
	"GEN60":   {5, 66},
	"GEN80":   {5, 88},
	"GEN100":  {5, 110},
	"GEN150":  {5, 165},
	"GEN300":  {5, 330},
	"GEN600":  {5, 660},
}

// UVL programming limits per voltage class, manual table 7.7.
// Max is roughly 95% of the rated voltage.
var uvlLimits = map[string]Range{
	"GEN6":    {0, 5.7},
	"GEN8":    {0, 7.6},
	"GEN12.5": {0, 11.9},
	"GEN20":   {0, 19},
	"GEN30":   {0, 28.5},
	"GEN40":   {0, 38},
	"GEN60":   {0, 57},
	"GEN80":   {0, 76},
	"GEN100":  {0, 95},
	"GEN150":  {0, 142},
	"GEN300":  {0, 285},
	"GEN600":  {0, 570},
}

// voltageClass renders the table key for a rated voltage, e.g. 12.5 ->
// "GEN12.5", 40 -> "GEN40".
func voltageClass(volts float64) string {
	return "GEN" + strconv.FormatFloat(volts, 'f', -1, 64)
}

// RatingsFor resolves the programming limits for an identified supply.
func RatingsFor(id Identity) (Ratings, error) {
	class := voltageClass(id.Voltage)

	ovp, ok := ovpLimits[class]
	if !ok {
		return Ratings{}, fmt.Errorf("genesys: no OVP table entry for %s", class)
	}
	uvl, ok := uvlLimits[class]
	if !ok {
		return Ratings{}, fmt.Errorf("genesys: no UVL table entry for %s", class)
	}

	return Ratings{
		Voltage:      Range{0, id.Voltage},
		Current:      Range{0, id.Current},
		OverVoltage:  ovp,
		UnderVoltage: uvl,
	}, nil
}
