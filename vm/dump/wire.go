// Package dump encodes fault snapshots as canonical CBOR so crash dumps
// written by different hosts compare byte for byte.
package dump

import (
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/cellvm/vm"
)

// Version is written in every dump header.
const Version = 1

// Dump is the on-disk form of one or more faults from a single run.
type Dump struct {
	Version int         `cbor:"1,keyasint"`
	Faults  []*vm.Fault `cbor:"2,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dump: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// MarshalFault serializes a single fault.
func MarshalFault(f *vm.Fault) ([]byte, error) {
	return encMode.Marshal(f)
}

// UnmarshalFault deserializes a single fault.
func UnmarshalFault(data []byte) (*vm.Fault, error) {
	var f vm.Fault
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("dump: unmarshal fault: %w", err)
	}
	return &f, nil
}

// Write encodes faults as a Dump to w.
func Write(w io.Writer, faults ...*vm.Fault) error {
	data, err := encMode.Marshal(&Dump{Version: Version, Faults: faults})
	if err != nil {
		return fmt.Errorf("dump: marshal: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Read decodes a Dump from r.
func Read(r io.Reader) (*Dump, error) {
	var d Dump
	if err := cbor.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("dump: decode: %w", err)
	}
	if d.Version != Version {
		return nil, fmt.Errorf("dump: unsupported version %d", d.Version)
	}
	return &d, nil
}

// WriteFile writes faults to path, replacing any existing file.
func WriteFile(path string, faults ...*vm.Fault) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	if err := Write(f, faults...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
