package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemory(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"1Ki", 1024},
		{"256Mi", 256 * 1 << 20},
		{"1Gi", 1 << 30},
	}
	for _, c := range cases {
		got, err := ParseMemory(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestParseMemoryInvalid(t *testing.T) {
	_, err := ParseMemory("not-a-size")
	assert.Error(t, err)
}

func TestParseCPU(t *testing.T) {
	got, err := ParseCPU("500m")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got)

	got, err = ParseCPU("2")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got)
}

func TestGrantRevokeNetworkMonotonicity(t *testing.T) {
	doc := Empty()
	granted := GrantNetwork(doc, "example.com")
	assert.True(t, CheckNetwork(granted, "example.com"))

	revoked := RevokeNetwork(granted, "example.com")
	assert.ElementsMatch(t, doc.Permissions.Network.Allow, revoked.Permissions.Network.Allow)
}

func TestGrantStorageUnionsAccessModes(t *testing.T) {
	doc := Empty()
	doc = GrantStorage(doc, "file:///data", AccessRead)
	doc = GrantStorage(doc, "file:///data", AccessWrite)
	require.Len(t, doc.Permissions.Storage.Allow, 1)
	assert.ElementsMatch(t, []AccessMode{AccessRead, AccessWrite}, doc.Permissions.Storage.Allow[0].Access)
}

func TestRevokeStorageIsTotal(t *testing.T) {
	doc := Empty()
	doc = GrantStorage(doc, "file:///data", AccessRead, AccessWrite)
	doc = RevokeStorage(doc, "file:///data")
	assert.False(t, CheckStorage(doc, "/data/x", AccessRead))
	assert.False(t, CheckStorage(doc, "/data/x", AccessWrite))
}

func TestCheckStorageContainment(t *testing.T) {
	doc := GrantStorage(Empty(), "file:///data", AccessRead)
	assert.True(t, CheckStorage(doc, "/data", AccessRead))
	assert.True(t, CheckStorage(doc, "/data/sub/file.txt", AccessRead))
	assert.False(t, CheckStorage(doc, "/other", AccessRead))
	assert.False(t, CheckStorage(doc, "/data/../etc/passwd", AccessRead))
}

func TestDenyByDefault(t *testing.T) {
	assert.False(t, CheckNetwork(nil, "example.com"))
	assert.False(t, CheckStorage(nil, "/data", AccessRead))
	allowed, _ := CheckEnvironment(nil, "PATH")
	assert.False(t, allowed)
}

func TestEnvironmentPrecedence(t *testing.T) {
	v := "literal"
	doc := GrantEnvironment(Empty(), "KEY", &v)
	allowed, literal := CheckEnvironment(doc, "KEY")
	require.True(t, allowed)
	require.NotNil(t, literal)
	assert.Equal(t, "literal", *literal)

	doc = GrantEnvironment(Empty(), "KEY", nil)
	allowed, literal = CheckEnvironment(doc, "KEY")
	require.True(t, allowed)
	assert.Nil(t, literal)
}

func TestParseRoundTrip(t *testing.T) {
	src := []byte(`
version: "1.0"
description: test policy
permissions:
  network:
    allow:
      - host: example.com
  storage:
    allow:
      - uri: file:///tmp/data
        access: [read, write]
  environment:
    allow:
      - key: API_TOKEN
  resources:
    limits:
      memory: "256Mi"
      cpu: "500m"
`)
	doc, err := Parse(src)
	require.NoError(t, err)
	assert.Equal(t, "1.0", doc.Version)
	assert.True(t, CheckNetwork(doc, "example.com"))
	assert.True(t, CheckStorage(doc, "/tmp/data/x", AccessWrite))
	mem, err := ParseMemory(doc.Permissions.Resources.Limits.Memory)
	require.NoError(t, err)
	assert.Equal(t, int64(256*1<<20), mem)
}

func TestParseRejectsUnknownVersion(t *testing.T) {
	_, err := Parse([]byte(`version: "2.0"`))
	assert.Error(t, err)
}
