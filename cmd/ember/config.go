package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

// Config is the viewer's TOML configuration.
type Config struct {
	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
	Shaders  ShaderConfig   `toml:"shaders"`

	Models    []ModelConfig    `toml:"models"`
	Materials []MaterialConfig `toml:"materials"`
	Lights    []LightConfig    `toml:"lights"`
}

type WindowConfig struct {
	Title  string `toml:"title"`
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
}

type RendererConfig struct {
	// Validation enables the Vulkan validation layers and the debug
	// messenger.
	Validation bool `toml:"validation"`
	// MSAA is the requested sample count; clamped to what the device
	// supports. 1 disables multisampling.
	MSAA int `toml:"msaa"`
	// Shadows toggles the shadow map pass.
	Shadows bool `toml:"shadows"`
	// Particles is the particle count; 0 disables the simulation.
	Particles int `toml:"particles"`
	// LightDir is the directional light the shadow pass follows.
	LightDir [3]float32 `toml:"light_dir"`
}

// ShaderConfig points at the compiled SPIR-V files.
type ShaderConfig struct {
	MeshVert     string `toml:"mesh_vert"`
	LitFrag      string `toml:"lit_frag"`
	FlatFrag     string `toml:"flat_frag"`
	ParticleVert string `toml:"particle_vert"`
	ParticleFrag string `toml:"particle_frag"`
	ShadowVert   string `toml:"shadow_vert"`
	ParticleComp string `toml:"particle_comp"`
}

type ModelConfig struct {
	Mesh     string     `toml:"mesh"`
	MTL      string     `toml:"mtl"`
	Material string     `toml:"material"`
	Pipeline string     `toml:"pipeline"`
	Position [3]float32 `toml:"position"`
	Scale    float32    `toml:"scale"`
}

type MaterialConfig struct {
	Name      string     `toml:"name"`
	Diffuse   [4]float32 `toml:"diffuse"`
	Specular  [3]float32 `toml:"specular"`
	Shininess float32    `toml:"shininess"`

	DiffuseTexture  string `toml:"diffuse_texture"`
	SpecularTexture string `toml:"specular_texture"`
}

type LightConfig struct {
	Position [3]float32 `toml:"position"`
	Color    [3]float32 `toml:"color"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Window: WindowConfig{
			Title:  "ember",
			Width:  1280,
			Height: 720,
		},
		Renderer: RendererConfig{
			MSAA:      4,
			Shadows:   true,
			Particles: 4096,
			LightDir:  [3]float32{-0.5, -1, -0.3},
		},
		Shaders: ShaderConfig{
			MeshVert:     "shaders/mesh.vert.spv",
			LitFrag:      "shaders/lit.frag.spv",
			FlatFrag:     "shaders/flat.frag.spv",
			ParticleVert: "shaders/particle.vert.spv",
			ParticleFrag: "shaders/particle.frag.spv",
			ShadowVert:   "shaders/shadow.vert.spv",
			ParticleComp: "shaders/particle.comp.spv",
		},
	}
}

// LoadConfig reads path over the defaults. Unknown keys are rejected
// so typos surface instead of silently falling back.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}

	err = cfg.validate()
	return cfg, err
}

func (c *Config) validate() error {
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return errors.Newf("window size %dx%d is not positive", c.Window.Width, c.Window.Height)
	}
	switch c.Renderer.MSAA {
	case 1, 2, 4, 8:
	default:
		return errors.Newf("msaa %d is not a supported sample count", c.Renderer.MSAA)
	}
	if c.Renderer.Particles < 0 {
		return errors.Newf("particle count %d is negative", c.Renderer.Particles)
	}

	names := map[string]bool{}
	for _, material := range c.Materials {
		if material.Name == "" {
			return errors.Newf("material with empty name")
		}
		if names[material.Name] {
			return errors.Newf("duplicate material %q", material.Name)
		}
		names[material.Name] = true
	}

	for _, model := range c.Models {
		if model.Mesh == "" {
			return errors.Newf("model with empty mesh path")
		}
		switch model.Pipeline {
		case "", "lit", "flat":
		default:
			return errors.Newf("model %s: unknown pipeline %q", model.Mesh, model.Pipeline)
		}
		if model.Material != "" && !names[model.Material] {
			return errors.Newf("model %s references unknown material %q", model.Mesh, model.Material)
		}
	}
	return nil
}
