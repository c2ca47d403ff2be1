// Package report turns machine state into dataframes and writes them as
// CSV, JSON lines or Parquet.
//
// Register values are kept as decimal strings in every format because the
// 128-bit bank does not fit any column type the exporters support.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/exports"
	"github.com/xitongsys/parquet-go-source/local"

	"github.com/akhildatla/regvm/pkg/vm"
)

// ErrUnknownFormat is returned for report paths without a known extension.
var ErrUnknownFormat = errors.New("unknown report format")

// Format is a report file format.
type Format uint8

const (
	FormatCSV Format = iota
	FormatJSONL
	FormatParquet
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatJSONL:
		return "jsonl"
	case FormatParquet:
		return "parquet"
	default:
		return "unknown"
	}
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".jsonl", ".json":
		return FormatJSONL, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Registers returns one row per register: register, bank, index, value and
// hex. Unless all is set, registers holding zero are skipped.
func Registers(rf *vm.RegisterFile, all bool) *dataframe.DataFrame {
	var names, banks, indexes, values, hexes []interface{}

	for _, bank := range []vm.Bank{vm.Bank32, vm.Bank64, vm.Bank128} {
		for i := uint8(0); i < vm.NumRegs; i++ {
			sel := vm.MakeSelector(bank, i)
			v := rf.Get(sel)
			if !all && v.IsZero() {
				continue
			}
			names = append(names, sel.String())
			banks = append(banks, bank.String())
			indexes = append(indexes, int64(i))
			values = append(values, v.String())
			hexes = append(hexes, Hex(bank, v))
		}
	}

	return dataframe.NewDataFrame(
		dataframe.NewSeriesString("register", nil, names...),
		dataframe.NewSeriesString("bank", nil, banks...),
		dataframe.NewSeriesInt64("index", nil, indexes...),
		dataframe.NewSeriesString("value", nil, values...),
		dataframe.NewSeriesString("hex", nil, hexes...),
	)
}

// Summary returns the flags and the three remainder registers as
// name/value rows.
func Summary(rf *vm.RegisterFile) *dataframe.DataFrame {
	names := []interface{}{"flags"}
	values := []interface{}{vm.FlagString(rf.Flags)}
	for _, bank := range []vm.Bank{vm.Bank32, vm.Bank64, vm.Bank128} {
		names = append(names, "rem"+strings.TrimPrefix(bank.String(), "r"))
		values = append(values, rf.Remainder(bank).String())
	}
	return dataframe.NewDataFrame(
		dataframe.NewSeriesString("name", nil, names...),
		dataframe.NewSeriesString("value", nil, values...),
	)
}

// Hex formats v as a two's-complement hex literal in the width of bank.
func Hex(bank vm.Bank, v vm.Int128) string {
	h := v.Hex()
	return "0x" + h[len(h)-2*bank.Width():]
}

// Write exports df to path in the format its extension names.
func Write(ctx context.Context, path string, df *dataframe.DataFrame) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	if format == FormatParquet {
		fw, err := local.NewLocalFileWriter(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		if err := exports.ExportToParquet(ctx, fw, df); err != nil {
			fw.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
		return fw.Close()
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTo(ctx, f, format, df); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// WriteTo exports df to w.
func WriteTo(ctx context.Context, w io.Writer, format Format, df *dataframe.DataFrame) error {
	switch format {
	case FormatCSV:
		return exports.ExportToCSV(ctx, w, df)
	case FormatJSONL:
		return exports.ExportToJSON(ctx, w, df)
	case FormatParquet:
		return exports.ExportToParquet(ctx, w, df)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownFormat, format)
	}
}
