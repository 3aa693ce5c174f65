package cell

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMaterializeExample(t *testing.T) {
	ad, err := NewArrayData([]Cell{0, 4}, []Cell{10, 20, 30}, 2)
	if err != nil {
		t.Fatalf("NewArrayData: %v", err)
	}

	got := ad.Materialize()
	want := []Cell{0, 4, 10, 20, 30, 0, 0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Materialize() = %v, want %v", got, want)
	}
	if ad.TotalSize() != 7 {
		t.Errorf("TotalSize() = %d, want 7", ad.TotalSize())
	}
}

func TestMaterializeEdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		iv     []Cell
		data   []Cell
		zeroes int
		want   []Cell
	}{
		{"empty", nil, nil, 0, []Cell{}},
		{"flat", nil, []Cell{1, 2}, 0, []Cell{1, 2}},
		{"flat with zero fill", nil, []Cell{'h', 'i'}, 2, []Cell{'h', 'i', 0, 0}},
		{"zeroes only", nil, nil, 3, []Cell{0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ad, err := NewArrayData(tt.iv, tt.data, tt.zeroes)
			if err != nil {
				t.Fatalf("NewArrayData: %v", err)
			}
			if got := ad.Materialize(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Materialize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewArrayDataRejectsBadSizes(t *testing.T) {
	if _, err := NewArrayData(nil, nil, -1); !errors.Is(err, ErrInvalidArray) {
		t.Errorf("negative zero fill: err = %v, want ErrInvalidArray", err)
	}
	if _, err := NewArrayData(nil, nil, maxCells+1); !errors.Is(err, ErrInvalidArray) {
		t.Errorf("oversized: err = %v, want ErrInvalidArray", err)
	}
}

func TestMaterializeIntoSizeMismatch(t *testing.T) {
	ad := &ArrayData{Data: []Cell{1}, Zeroes: 1}
	if err := ad.MaterializeInto(make([]Cell, 3)); !errors.Is(err, ErrInvalidArray) {
		t.Errorf("err = %v, want ErrInvalidArray", err)
	}
}

func TestDefaultArrayDataReset(t *testing.T) {
	ad := &ArrayData{IV: []Cell{8, 12}, Data: []Cell{1, 2, 3, 4}, Zeroes: 2}
	def := NewDefaultArrayData(ad)

	buf := ad.Materialize()
	for i := range buf {
		buf[i] = -7
	}
	if err := def.Reset(buf); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if want := ad.Materialize(); !reflect.DeepEqual(buf, want) {
		t.Errorf("Reset() produced %v, want %v", buf, want)
	}
}

func TestDefaultArrayDataResetBadSizes(t *testing.T) {
	tests := []struct {
		name string
		def  *DefaultArrayData
	}{
		{"data too short", &DefaultArrayData{ArrayData: ArrayData{Data: []Cell{1}}, IVSize: 0, DataSize: 5}},
		{"negative size", &DefaultArrayData{ArrayData: ArrayData{IV: []Cell{1}}, IVSize: -1, DataSize: 0}},
		{"sizes overflow a cell", &DefaultArrayData{ArrayData: ArrayData{IV: []Cell{1}}, IVSize: math.MaxInt32, DataSize: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.def.Reset(make([]Cell, tt.def.TotalSize())); !errors.Is(err, ErrInvalidArray) {
				t.Errorf("err = %v, want ErrInvalidArray", err)
			}
		})
	}
}

func genCells(maxLen int) gopter.Gen {
	return gen.SliceOf(gen.Int32()).Map(func(v []int32) []Cell {
		if len(v) > maxLen {
			v = v[:maxLen]
		}
		out := make([]Cell, len(v))
		for i, x := range v {
			out[i] = Cell(x)
		}
		return out
	})
}

func TestPropertyArrayData(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("total size is the sum of its parts", prop.ForAll(
		func(iv, data []Cell, zeroes int) bool {
			ad, err := NewArrayData(iv, data, zeroes)
			if err != nil {
				return false
			}
			return ad.TotalSize() == len(iv)+len(data)+zeroes &&
				len(ad.Materialize()) == ad.TotalSize()
		},
		genCells(16),
		genCells(32),
		gen.IntRange(0, 64),
	))

	properties.Property("materialized layout is iv, data, zeroes", prop.ForAll(
		func(iv, data []Cell, zeroes int) bool {
			ad := &ArrayData{IV: iv, Data: data, Zeroes: uint32(zeroes)}
			out := ad.Materialize()
			for i, v := range iv {
				if out[i] != v {
					return false
				}
			}
			for i, v := range data {
				if out[len(iv)+i] != v {
					return false
				}
			}
			for _, v := range out[len(iv)+len(data):] {
				if v != 0 {
					return false
				}
			}
			return true
		},
		genCells(16),
		genCells(32),
		gen.IntRange(0, 64),
	))

	properties.Property("reset reproduces construction", prop.ForAll(
		func(iv, data []Cell, zeroes int, junk int32) bool {
			ad := &ArrayData{IV: iv, Data: data, Zeroes: uint32(zeroes)}
			def := NewDefaultArrayData(ad)
			buf := ad.Materialize()
			for i := range buf {
				buf[i] = Cell(junk)
			}
			if err := def.Reset(buf); err != nil {
				return false
			}
			return reflect.DeepEqual(buf, ad.Materialize())
		},
		genCells(8),
		genCells(16),
		gen.IntRange(0, 16),
		gen.Int32(),
	))

	properties.TestingRun(t)
}
