package cell

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFloatReinterpretation(t *testing.T) {
	tests := []struct {
		f    float32
		bits uint32
	}{
		{1.5, 0x3FC00000},
		{4.0, 0x40800000},
		{0, 0},
		{float32(math.Copysign(0, -1)), 0x80000000},
		{float32(math.Inf(1)), 0x7F800000},
	}

	for _, tt := range tests {
		c := FromFloat(tt.f)
		if uint32(c) != tt.bits {
			t.Errorf("FromFloat(%v) = 0x%08X, want 0x%08X", tt.f, uint32(c), tt.bits)
		}
		if math.Float32bits(c.Float()) != tt.bits {
			t.Errorf("Cell(0x%08X).Float() lost bits", tt.bits)
		}
	}
}

func TestNaNPayloadSurvives(t *testing.T) {
	c := Cell(0x7FC00123)
	if got := FromFloat(c.Float()); got != c {
		t.Errorf("NaN payload changed: 0x%08X -> 0x%08X", uint32(c), uint32(got))
	}
}

func TestDoubleView(t *testing.T) {
	c := FromDouble(2.5)
	if c.Double() != 2.5 {
		t.Errorf("Double() = %v, want 2.5", c.Double())
	}
	if c != FromFloat(2.5) {
		t.Errorf("double cell should hold the binary32 pattern")
	}
}

func TestFromBool(t *testing.T) {
	if FromBool(true) != 1 || FromBool(false) != 0 {
		t.Error("FromBool must map to 1/0")
	}
}

func TestPropertyFloatBitsRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("cell -> float -> cell preserves bits", prop.ForAll(
		func(bits uint32) bool {
			c := Cell(bits)
			return math.Float32bits(c.Float()) == bits
		},
		gen.UInt32(),
	))

	properties.TestingRun(t)
}
