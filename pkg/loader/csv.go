package loader

import (
	"bytes"
	"context"
	"os"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/imports"
)

// LoadCSV reads a CSV report. The first row names the columns; type
// inference is off so 128-bit values and hex strings survive unchanged.
func LoadCSV(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmpty
	}

	df, err := imports.LoadFromCSV(ctx, bytes.NewReader(data), imports.CSVLoadOptions{
		InferDataTypes: false,
	})
	if err != nil {
		return nil, err
	}
	return checkColumns(df)
}
