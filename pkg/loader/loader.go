// Package loader reads reports written by package report back into
// dataframes. Every column comes back as strings.
package loader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	dataframe "github.com/rocketlaunchr/dataframe-go"
)

var (
	ErrEmpty         = errors.New("report has no columns")
	ErrUnknownFormat = errors.New("unknown file format")
)

// Load reads path with the loader its extension names: .csv, .jsonl (or
// .json) and .parquet.
func Load(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	var df *dataframe.DataFrame
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		df, err = LoadCSV(ctx, path)
	case ".jsonl", ".json":
		df, err = LoadJSON(ctx, path)
	case ".parquet":
		df, err = LoadParquet(ctx, path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return df, nil
}

// Column returns the values of the named column as strings.
func Column(df *dataframe.DataFrame, name string) ([]string, error) {
	idx, err := df.NameToColumn(name)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", name, err)
	}
	s := df.Series[idx]
	out := make([]string, s.NRows())
	for i := range out {
		out[i] = s.ValueString(i)
	}
	return out, nil
}

func checkColumns(df *dataframe.DataFrame) (*dataframe.DataFrame, error) {
	if df == nil || len(df.Series) == 0 {
		return nil, ErrEmpty
	}
	return df, nil
}
