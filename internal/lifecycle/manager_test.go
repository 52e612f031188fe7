package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duffney/wassette/internal/abi"
	"github.com/duffney/wassette/internal/errs"
	"github.com/duffney/wassette/internal/policy"
	"github.com/duffney/wassette/internal/secrets"
)

func TestQualifiedToolName(t *testing.T) {
	name := qualifiedToolName("calculator", abi.FunctionDescriptor{
		Name:          "add-one",
		InterfaceName: "example:math",
	})
	assert.Equal(t, "calculator_example_math_add_one", name)
}

func TestValidationStampEqual(t *testing.T) {
	now := time.Unix(1700000000, 0)
	a := ValidationStamp{Size: 100, ModTime: now}
	b := ValidationStamp{Size: 100, ModTime: now}
	c := ValidationStamp{Size: 101, ModTime: now}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestBuildSandboxEnvironmentPrecedence(t *testing.T) {
	t.Setenv("WASSETTE_TEST_HOST_VAR", "from-host")

	m := &Manager{
		pluginDir: t.TempDir(),
		secrets:   secrets.New(t.TempDir()),
		envAllow:  map[string]bool{"WASSETTE_TEST_HOST_VAR": true},
		entries:   map[string]*Entry{},
	}

	require.NoError(t, m.secrets.Set("comp-a", "FROM_SECRET", "from-secret"))

	literal := "from-policy"
	doc := policy.Empty()
	doc = policy.GrantEnvironment(doc, "LITERAL_KEY", &literal)
	doc = policy.GrantEnvironment(doc, "FROM_SECRET", nil)
	doc = policy.GrantEnvironment(doc, "WASSETTE_TEST_HOST_VAR", nil)

	entry := &Entry{ID: "comp-a", Policy: doc}

	sb, err := m.buildSandbox(context.Background(), entry)
	require.NoError(t, err)

	assert.Equal(t, "from-policy", sb.Env["LITERAL_KEY"])
	assert.Equal(t, "from-secret", sb.Env["FROM_SECRET"])
	assert.Equal(t, "from-host", sb.Env["WASSETTE_TEST_HOST_VAR"])
}

func TestBuildSandboxDeniesNetworkWithoutPolicy(t *testing.T) {
	m := &Manager{pluginDir: t.TempDir(), secrets: secrets.New(t.TempDir()), entries: map[string]*Entry{}}
	entry := &Entry{ID: "comp-a"}

	sb, err := m.buildSandbox(context.Background(), entry)
	require.NoError(t, err)
	assert.False(t, sb.NetworkAllowed("example.com"))
}

func TestBuildSandboxParsesCPULimitIntoCallBudget(t *testing.T) {
	m := &Manager{pluginDir: t.TempDir(), secrets: secrets.New(t.TempDir()), entries: map[string]*Entry{}}

	doc, err := policy.GrantCPU(policy.Empty(), "500m")
	require.NoError(t, err)
	entry := &Entry{ID: "comp-a", Policy: doc}

	sb, err := m.buildSandbox(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, 500, sb.CallBudget)
}

func TestBuildSandboxRejectsInvalidCPULimit(t *testing.T) {
	m := &Manager{pluginDir: t.TempDir(), secrets: secrets.New(t.TempDir()), entries: map[string]*Entry{}}

	doc := policy.Empty()
	doc.Permissions.Resources.Limits.CPU = "not-a-limit"
	entry := &Entry{ID: "comp-a", Policy: doc}

	_, err := m.buildSandbox(context.Background(), entry)
	assert.ErrorIs(t, err, errs.ErrInvalidLimit)
}

func TestBuildSandboxNoCPULimitLeavesCallBudgetUnset(t *testing.T) {
	m := &Manager{pluginDir: t.TempDir(), secrets: secrets.New(t.TempDir()), entries: map[string]*Entry{}}
	entry := &Entry{ID: "comp-a", Policy: policy.Empty()}

	sb, err := m.buildSandbox(context.Background(), entry)
	require.NoError(t, err)
	assert.Zero(t, sb.CallBudget)
}
