package loader

import (
	"context"
	"fmt"

	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/akhildatla/regvm/pkg/compiler"
	"github.com/akhildatla/regvm/pkg/vm"
)

// Registers rebuilds a register file from a register report. Registers
// missing from the report are zero.
func Registers(df *dataframe.DataFrame) (*vm.RegisterFile, error) {
	names, err := Column(df, "register")
	if err != nil {
		return nil, err
	}
	values, err := Column(df, "value")
	if err != nil {
		return nil, err
	}

	rf := vm.NewRegisterFile()
	for i, name := range names {
		sel, err := compiler.ParseRegister(name)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		v, err := vm.ParseInt128(values[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", i+1, name, err)
		}
		rf.Set(sel, v)
	}
	return rf, nil
}

// LoadRegisters reads a register report file into a register file.
func LoadRegisters(ctx context.Context, path string) (*vm.RegisterFile, error) {
	df, err := Load(ctx, path)
	if err != nil {
		return nil, err
	}
	rf, err := Registers(df)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rf, nil
}
