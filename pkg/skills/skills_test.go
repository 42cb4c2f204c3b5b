package skills

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemode-ai/codemode/pkg/errors"
)

func TestNewSkill(t *testing.T) {
	t.Parallel()

	source := `"""Add two numbers.

Used by the calculator flows.
"""

def run(a, b=1, *args, **kwargs):
    return a + b
`
	skill, err := New("adder", source, "")
	require.NoError(t, err)
	assert.Equal(t, "adder", skill.Name)
	assert.Equal(t, "Add two numbers.", skill.Description)
	require.Len(t, skill.Parameters, 4)
	assert.Equal(t, Parameter{Name: "a"}, skill.Parameters[0])
	assert.Equal(t, Parameter{Name: "b", HasDefault: true, Default: "1"}, skill.Parameters[1])
	assert.Equal(t, "*args", skill.Parameters[2].Name)
	assert.Equal(t, "**kwargs", skill.Parameters[3].Name)
}

func TestNewSkillExplicitDescriptionWins(t *testing.T) {
	t.Parallel()

	skill, err := New("s", "\"\"\"Doc.\"\"\"\ndef run():\n    return 1\n", "Explicit")
	require.NoError(t, err)
	assert.Equal(t, "Explicit", skill.Description)
}

func TestNewSkillRejectsBadSource(t *testing.T) {
	t.Parallel()

	_, err := New("s", "def run(:\n", "")
	assert.True(t, errors.IsInvalidSource(err))

	_, err = New("s", "def helper():\n    return 1\n", "")
	assert.True(t, errors.IsInvalidSource(err))
	assert.Contains(t, err.Error(), "run")
}

func TestValidateSkillName(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateSkillName("port_scan"))
	assert.NoError(t, ValidateSkillName("_private"))

	bad := []string{
		"",
		"1digit",
		"has space",
		"has-dash",
		strings.Repeat("x", 65),
		"tools",
		"skills",
		"artifacts",
		"deps",
		"run",
	}
	for _, name := range bad {
		err := ValidateSkillName(name)
		assert.True(t, errors.IsInvalidName(err), "name %q should be rejected", name)
	}
}
