package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Defaults(t *testing.T) {
	matcher, err := NewMatcher(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		path     string
		shouldIg bool
	}{
		{".av", true},
		{".av/objects/aa", true},
		{".git", true},
		{"config.yaml", true},
		{".DS_Store", true},
		{".avignore", true},
		{"duck.glb", false},
		{"scenes/city.gltf", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.shouldIg, matcher.Matches(tt.path), "Path: %s", tt.path)
		})
	}
}

func TestMatcher_AvIgnoreFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("*.blend\ntextures/\n!keep.blend\n"), 0644))

	matcher, err := NewMatcher(root)
	require.NoError(t, err)

	assert.True(t, matcher.Matches("scene.blend"))
	assert.False(t, matcher.Matches("keep.blend"))
	assert.True(t, matcher.Matches("textures/wood.png"))
	assert.False(t, matcher.Matches("duck.glb"))
	assert.True(t, matcher.Matches(".git"), "defaults still apply")
}

func TestMatcher_Collect(t *testing.T) {
	root := t.TempDir()
	write := func(rel string) {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(rel), 0644))
	}
	write(FileName)
	write("duck.glb")
	write("scenes/city.gltf")
	write("scenes/city.blend")
	write(".git/HEAD")
	write("textures/wood.png")
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("*.blend\ntextures/\n"), 0644))

	matcher, err := NewMatcher(root)
	require.NoError(t, err)
	files, err := matcher.Collect(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"duck.glb", filepath.Join("scenes", "city.gltf")}, files)
}
