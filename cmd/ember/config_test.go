package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ember.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 1280, cfg.Window.Width)
	assert.Equal(t, 4, cfg.Renderer.MSAA)
	assert.True(t, cfg.Renderer.Shadows)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[window]
title = "demo"
width = 640
height = 480

[renderer]
msaa = 1
shadows = false
particles = 0
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Window.Title)
	assert.Equal(t, 640, cfg.Window.Width)
	assert.Equal(t, 1, cfg.Renderer.MSAA)
	assert.False(t, cfg.Renderer.Shadows)
	assert.Zero(t, cfg.Renderer.Particles)
	// Untouched sections keep their defaults.
	assert.Equal(t, "shaders/mesh.vert.spv", cfg.Shaders.MeshVert)
}

func TestLoadConfigScene(t *testing.T) {
	path := writeConfig(t, `
[[materials]]
name = "brick"
diffuse = [0.8, 0.3, 0.2, 1.0]
specular = [0.2, 0.2, 0.2]
shininess = 16.0

[[models]]
mesh = "meshes/wall.obj"
material = "brick"
pipeline = "lit"
position = [1.0, 0.0, -2.0]
scale = 2.0

[[lights]]
position = [0.0, 5.0, 0.0]
color = [1.0, 0.9, 0.8]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Materials, 1)
	assert.Equal(t, "brick", cfg.Materials[0].Name)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, float32(2), cfg.Models[0].Scale)
	require.Len(t, cfg.Lights, 1)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad msaa", "[renderer]\nmsaa = 3\n"},
		{"negative particles", "[renderer]\nparticles = -1\n"},
		{"zero window", "[window]\nwidth = 0\nheight = 0\ntitle = \"x\"\n"},
		{"unknown pipeline", "[[models]]\nmesh = \"a.obj\"\npipeline = \"wireframe\"\n"},
		{"unknown material reference", "[[models]]\nmesh = \"a.obj\"\nmaterial = \"nope\"\n"},
		{"duplicate material", "[[materials]]\nname = \"a\"\n[[materials]]\nname = \"a\"\n"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, test.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
