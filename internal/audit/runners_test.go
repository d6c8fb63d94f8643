package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMypyDefaultFormat(t *testing.T) {
	// 默认不带列号
	out := "main.py:10: error: Name \"x\" is not defined  [name-defined]\n" +
		"main.py:15: note: See https://mypy.readthedocs.io\n" +
		"main.py:20: warning: unused 'type: ignore' comment\n"

	findings := parseMypyOutput(out)
	require.Len(t, findings, 3)

	assert.Equal(t, "mypy", findings[0].Tool)
	assert.Equal(t, "name-defined", findings[0].Code)
	assert.Equal(t, `Name "x" is not defined`, findings[0].Message)
	assert.Equal(t, 10, findings[0].Line)
	assert.Equal(t, 0, findings[0].Column)
	assert.Equal(t, SeverityError, findings[0].Severity)

	assert.Equal(t, SeverityInfo, findings[1].Severity)
	assert.Equal(t, SeverityWarning, findings[2].Severity)
}

func TestParseMypyColumnFormat(t *testing.T) {
	out := "main.py:12:4: error: Incompatible types in assignment  [assignment]\n"

	findings := parseMypyOutput(out)
	require.Len(t, findings, 1)
	assert.Equal(t, 12, findings[0].Line)
	assert.Equal(t, 4, findings[0].Column)
	assert.Equal(t, "assignment", findings[0].Code)
	assert.Equal(t, SeverityError, findings[0].Severity)
}

func TestParseMypyUnparsableFallsBackToRawLines(t *testing.T) {
	out := "Traceback (most recent call last):\n  File \"mypy/main.py\", crash\n"

	findings := parseMypyOutput(out)
	require.Len(t, findings, 2)
	for _, f := range findings {
		assert.Equal(t, "mypy", f.Tool)
		assert.Equal(t, SeverityWarning, f.Severity)
		assert.Empty(t, f.Code)
	}
}

func TestParseMypyEmptyOutput(t *testing.T) {
	assert.Empty(t, parseMypyOutput(""))
	assert.Empty(t, parseMypyOutput("\n  \n"))
}

func TestParseRuffJSON(t *testing.T) {
	out := `[
		{"code": "F821", "message": "Undefined name 'x'", "location": {"row": 3, "column": 5}},
		{"code": "E501", "message": "Line too long", "location": {"row": 8, "column": 121}},
		{"code": "W291", "message": "Trailing whitespace", "location": {"row": 9, "column": 40}}
	]`

	findings := parseRuffOutput(out)
	require.Len(t, findings, 3)

	assert.Equal(t, "F821", findings[0].Code)
	assert.Equal(t, 3, findings[0].Line)
	assert.Equal(t, 5, findings[0].Column)
	assert.Equal(t, SeverityError, findings[0].Severity)

	// E501 不在 E9 段，按风格问题处理
	assert.Equal(t, SeverityWarning, findings[1].Severity)
	assert.Equal(t, SeverityWarning, findings[2].Severity)
}

func TestRuffSeverityMapping(t *testing.T) {
	assert.Equal(t, SeverityError, ruffSeverity("E999"))
	assert.Equal(t, SeverityError, ruffSeverity("F401"))
	assert.Equal(t, SeverityError, ruffSeverity("B008"))
	assert.Equal(t, SeverityWarning, ruffSeverity("E501"))
	assert.Equal(t, SeverityWarning, ruffSeverity("UP006"))
	assert.Equal(t, SeverityWarning, ruffSeverity("I001"))
}

func TestParseRuffBadJSONFallsBackToRawLines(t *testing.T) {
	out := "error: Failed to parse main.py:3:1: unexpected token\n"

	findings := parseRuffOutput(out)
	require.Len(t, findings, 1)
	assert.Equal(t, "ruff", findings[0].Tool)
	assert.Equal(t, SeverityWarning, findings[0].Severity)
	assert.Contains(t, findings[0].Message, "unexpected token")
}

func TestParsePylintJSON(t *testing.T) {
	out := `[
		{"type": "error", "symbol": "undefined-variable", "message": "Undefined variable 'x'", "line": 4, "column": 8},
		{"type": "fatal", "symbol": "syntax-error", "message": "invalid syntax", "line": 1, "column": 0},
		{"type": "warning", "symbol": "unused-import", "message": "Unused import os", "line": 2, "column": 0},
		{"type": "convention", "symbol": "invalid-name", "message": "doesn't conform", "line": 6, "column": 0},
		{"type": "refactor", "symbol": "too-many-branches", "message": "Too many branches", "line": 9, "column": 0}
	]`

	findings := parsePylintOutput(out)
	require.Len(t, findings, 5)

	assert.Equal(t, SeverityError, findings[0].Severity)
	assert.Equal(t, "undefined-variable", findings[0].Code)
	assert.Equal(t, 4, findings[0].Line)
	assert.Equal(t, SeverityError, findings[1].Severity)
	assert.Equal(t, SeverityWarning, findings[2].Severity)
	assert.Equal(t, SeverityInfo, findings[3].Severity)
	assert.Equal(t, SeverityInfo, findings[4].Severity)
}

func TestParsePylintBadJSONFallsBackToRawLines(t *testing.T) {
	out := "************* Module main\nmain.py:1:0: F0001: fatal parse error\n"

	findings := parsePylintOutput(out)
	require.Len(t, findings, 2)
	assert.Equal(t, "pylint", findings[0].Tool)
	assert.Equal(t, SeverityWarning, findings[1].Severity)
}
