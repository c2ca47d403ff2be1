// Package testutil provides testing utilities for regvm tests.
package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/akhildatla/regvm/pkg/vm"
)

// TempFile creates name in a fresh temporary directory with the given
// content and returns its path. The file is removed when the test ends.
func TempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// TempSource writes assembly source to a temporary .rasm file.
func TempSource(t *testing.T, source string) string {
	t.Helper()
	return TempFile(t, "test.rasm", source)
}

// SquareSource returns a two-segment program: the entry segment calls
// "square", which pushes 12*12 for the caller to pop into w1.
func SquareSource() string {
	return `.segment main
LOD w0, #100
CAL square
POP w1
HLT

.segment square
LOD w0, #12
MUL w0, w0
PSH w0
HLT
`
}

// AssertColumn checks the string values of a dataframe column.
func AssertColumn(t *testing.T, df *dataframe.DataFrame, name string, want ...string) {
	t.Helper()
	idx, err := df.NameToColumn(name)
	if err != nil {
		t.Errorf("column %s: %v", name, err)
		return
	}
	s := df.Series[idx]
	got := make([]string, s.NRows())
	for i := range got {
		got[i] = s.ValueString(i)
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("column %s: expected %v, got %v", name, want, got)
	}
}

// AssertInt128 checks a register value against its decimal form.
func AssertInt128(t *testing.T, expected string, actual vm.Int128) {
	t.Helper()
	if actual.String() != expected {
		t.Errorf("expected %s, got %s", expected, actual)
	}
}
