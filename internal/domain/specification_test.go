package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func calculatorSpec() *Specification {
	return &Specification{
		ProjectName: "calc",
		FileStructure: []FileTask{
			{Path: "src/calc.py", Description: "calculator logic"},
			{Path: "tests/test_calc.py", Description: "tests"},
			{Path: "README.md", Description: "docs"},
		},
		Functions: []FunctionTask{
			{Name: "add", Signature: "def add(a: int, b: int) -> int", Behavior: "adds"},
		},
		SetupCommands: []string{"pip install click", "python -m venv .venv", "git init"},
	}
}

func TestSpecification_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    *Specification
		wantErr bool
	}{
		{name: "valid", spec: calculatorSpec()},
		{name: "nil", spec: nil, wantErr: true},
		{name: "empty file structure", spec: &Specification{ProjectName: "x"}, wantErr: true},
		{
			name:    "absolute path",
			spec:    &Specification{FileStructure: []FileTask{{Path: "/etc/passwd"}}},
			wantErr: true,
		},
		{
			name:    "parent escape",
			spec:    &Specification{FileStructure: []FileTask{{Path: "src/../../x.py"}}},
			wantErr: true,
		},
		{
			name:    "blank path",
			spec:    &Specification{FileStructure: []FileTask{{Path: "  "}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrSpecificationMalformed))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSpecification_RoundTripPreservesOrder(t *testing.T) {
	spec := calculatorSpec()

	first, err := spec.MarshalIndent()
	require.NoError(t, err)

	parsed, err := ParseSpecification(first)
	require.NoError(t, err)

	second, err := parsed.MarshalIndent()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Equal(t, spec.FileStructure, parsed.FileStructure)
	assert.Equal(t, spec.SetupCommands, parsed.SetupCommands)
}

func TestParseSpecification_Malformed(t *testing.T) {
	_, err := ParseSpecification([]byte(`{"project_name": 3`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpecificationMalformed)

	data, _ := json.Marshal(Specification{ProjectName: "empty"})
	_, err = ParseSpecification(data)
	assert.ErrorIs(t, err, ErrSpecificationMalformed)
}

func TestSpecification_HasPath(t *testing.T) {
	spec := calculatorSpec()

	assert.True(t, spec.HasPath("src/calc.py"))
	assert.True(t, spec.HasPath("./src/calc.py"))
	assert.False(t, spec.HasPath("src/other.py"))
	assert.False(t, spec.HasPath("../src/calc.py"))
}

func TestCleanRelativePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "src/calc.py", want: "src/calc.py"},
		{in: "./tests//test_calc.py", want: "tests/test_calc.py"},
		{in: " README.md ", want: "README.md"},
		{in: "a/../b.py", want: "b.py"},
		{in: "", wantErr: true},
		{in: ".", wantErr: true},
		{in: "..", wantErr: true},
		{in: "../x", wantErr: true},
		{in: "/abs", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanRelativePath(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPathEscapesRoot)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerificationRecord_Feedback(t *testing.T) {
	rec := VerificationRecord{Status: StatusFail, Diagnostic: "AssertionError: add(2,2) != 5"}
	assert.Equal(t, "STATUS: FAIL\nAssertionError: add(2,2) != 5", rec.Feedback())
	assert.False(t, rec.Passed())
	assert.True(t, VerificationRecord{Status: StatusPass}.Passed())
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrSchemaViolation))
	assert.True(t, IsFatal(errors.Join(errors.New("x"), ErrDuplicateTestTarget)))
	assert.False(t, IsFatal(ErrCommandTimeout))
	assert.False(t, IsFatal(ErrSandboxProvision))
	assert.False(t, IsFatal(nil))
}
