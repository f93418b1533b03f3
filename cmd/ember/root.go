package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/core/core1_0"
	"golang.org/x/exp/slog"

	"github.com/embergfx/ember/gpu"
	"github.com/embergfx/ember/render"
	"github.com/embergfx/ember/scene"
)

var (
	flagConfig     string
	flagValidation bool
	flagVerbose    bool
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ember",
		Short: "Vulkan scene viewer",
		Long:  "ember renders a configured scene with shadow mapping and a GPU particle simulation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to a TOML scene config")
	cmd.Flags().BoolVar(&flagValidation, "validation", false, "enable Vulkan validation layers")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func run() error {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := LoadConfig(flagConfig)
	if err != nil {
		return err
	}
	if flagValidation {
		cfg.Renderer.Validation = true
	}

	window, err := newSDLWindow(cfg.Window)
	if err != nil {
		return err
	}
	defer window.Destroy()

	dev, err := gpu.NewDevice(window.Handle(), logger, gpu.Options{
		AppName:          cfg.Window.Title,
		EnableValidation: cfg.Renderer.Validation,
	})
	if err != nil {
		return err
	}
	defer dev.Destroy()

	manager, err := render.NewManager(dev)
	if err != nil {
		return err
	}
	defer manager.Destroy()

	samples := sampleCount(cfg.Renderer.MSAA)
	swapchain, err := render.NewSwapChain(logger, dev, window, samples)
	if err != nil {
		return err
	}
	defer swapchain.Destroy()

	blobs, err := loadShaders(cfg.Shaders)
	if err != nil {
		return err
	}

	pipelines, err := render.NewPipelineSet(dev, manager, blobs,
		swapchain.Format(), swapchain.DepthFormat(), swapchain.SampleCount())
	if err != nil {
		return err
	}
	defer pipelines.Destroy()

	shadow, err := render.NewShadowMap(dev, dev.GraphicsQueue(), pipelines.ShadowPass,
		swapchain.DepthFormat(), cfg.Renderer.Shadows)
	if err != nil {
		return err
	}
	defer shadow.Destroy()

	registry, world, err := buildScene(dev, cfg)
	if err != nil {
		return err
	}
	defer registry.Destroy()

	err = registry.Compile(dev, dev.GraphicsQueue(), manager)
	if err != nil {
		return err
	}

	lightDir := mgl32.Vec3{cfg.Renderer.LightDir[0], cfg.Renderer.LightDir[1], cfg.Renderer.LightDir[2]}
	engine, err := render.NewEngine(logger, dev, window, manager, swapchain, pipelines, shadow, registry, render.EngineOptions{
		Shadows:       cfg.Renderer.Shadows,
		LightDir:      lightDir,
		ParticleCount: cfg.Renderer.Particles,
	})
	if err != nil {
		return err
	}
	defer engine.Destroy()

	boundsMin, boundsMax := world.Bounds()
	center := boundsMin.Add(boundsMax).Mul(0.5)
	camera := scene.NewOrbitCamera(center, boundsMax.Sub(boundsMin).Len()*1.5)
	window.orbit = camera.Orbit
	window.zoom = camera.Zoom

	logger.Info("starting frame loop",
		"objects", len(world.Drawables()),
		"materials", registry.Count(),
		"particles", cfg.Renderer.Particles)

	last := hrtime.Now()
	for !window.CloseRequested() {
		window.PumpEvents()
		if window.CloseRequested() {
			break
		}

		now := hrtime.Now()
		deltaTime := float32((now - last).Seconds())
		last = now

		err = engine.DrawFrame(world, camera, deltaTime)
		if err != nil {
			return err
		}
	}

	dev.WaitIdle()
	return nil
}

// buildScene loads the configured meshes and materials into a world.
// Models without a material render flat.
func buildScene(dev *gpu.Device, cfg Config) (*scene.Registry, *scene.World, error) {
	registry := scene.NewRegistry()
	materialIndex := map[string]int{}
	for _, material := range cfg.Materials {
		materialIndex[material.Name] = registry.Add(scene.Material{
			Name: material.Name,
			Params: scene.MaterialParams{
				Diffuse: mgl32.Vec4{material.Diffuse[0], material.Diffuse[1], material.Diffuse[2], material.Diffuse[3]},
				Specular: mgl32.Vec4{
					material.Specular[0], material.Specular[1], material.Specular[2],
					material.Shininess,
				},
			},
			DiffusePath:  material.DiffuseTexture,
			SpecularPath: material.SpecularTexture,
		})
	}
	if registry.Count() == 0 {
		// The descriptor machinery expects at least one material.
		registry.Add(scene.Material{
			Name: "default",
			Params: scene.MaterialParams{
				Diffuse:  mgl32.Vec4{0.8, 0.8, 0.8, 1},
				Specular: mgl32.Vec4{0.5, 0.5, 0.5, 32},
			},
		})
	}

	world := scene.NewWorld()
	for _, model := range cfg.Models {
		mesh, err := loadMesh(dev, model)
		if err != nil {
			return nil, nil, err
		}

		kind := render.PipelineLit
		if model.Pipeline == "flat" || model.Material == "" {
			kind = render.PipelineFlat
		}
		object := world.Add(scene.NewObject(mesh, materialIndex[model.Material], kind))

		scale := model.Scale
		if scale == 0 {
			scale = 1
		}
		transform := mgl32.Translate3D(model.Position[0], model.Position[1], model.Position[2]).
			Mul4(mgl32.Scale3D(scale, scale, scale))
		object.SetTransform(transform)
	}

	for _, light := range cfg.Lights {
		world.AddLight(render.Light{
			Position: mgl32.Vec4{light.Position[0], light.Position[1], light.Position[2], 1},
			Color:    mgl32.Vec4{light.Color[0], light.Color[1], light.Color[2], 1},
		})
	}

	return registry, world, nil
}

func loadMesh(dev *gpu.Device, model ModelConfig) (*scene.Mesh, error) {
	meshFile, err := os.Open(model.Mesh)
	if err != nil {
		return nil, errors.Wrapf(err, "opening mesh %s", model.Mesh)
	}
	defer meshFile.Close()

	mtlPath := model.MTL
	if mtlPath == "" {
		mtlPath = os.DevNull
	}
	mtlFile, err := os.Open(mtlPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening mtl %s", mtlPath)
	}
	defer mtlFile.Close()

	return scene.LoadOBJ(dev, dev.GraphicsQueue(), meshFile, mtlFile)
}

func loadShaders(cfg ShaderConfig) (render.ShaderBlobs, error) {
	blobs := render.ShaderBlobs{}
	for _, shader := range []struct {
		path string
		dst  *[]byte
	}{
		{cfg.MeshVert, &blobs.MeshVert},
		{cfg.LitFrag, &blobs.LitFrag},
		{cfg.FlatFrag, &blobs.FlatFrag},
		{cfg.ParticleVert, &blobs.ParticleVert},
		{cfg.ParticleFrag, &blobs.ParticleFrag},
		{cfg.ShadowVert, &blobs.ShadowVert},
		{cfg.ParticleComp, &blobs.ParticleComp},
	} {
		data, err := os.ReadFile(shader.path)
		if err != nil {
			return blobs, errors.Wrapf(err, "loading shader %s", shader.path)
		}
		*shader.dst = data
	}
	return blobs, nil
}

func sampleCount(msaa int) core1_0.SampleCountFlags {
	switch msaa {
	case 2:
		return core1_0.Samples2
	case 4:
		return core1_0.Samples4
	case 8:
		return core1_0.Samples8
	default:
		return core1_0.Samples1
	}
}
