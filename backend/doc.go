// Package backend selects and opens the graphics API used by the render
// thread.
//
// Every API (GLES2, Vulkan, Metal, D3D11) is driven through the pure Go
// wgpu HAL. The Headless backend runs the same code paths against an
// in-memory device and is always available, which makes it the backend of
// choice for tests and GPU-less servers.
//
// # Backend Registration
//
// Platform drivers are registered from init() functions by kind:
//
//	linux:   Vulkan, GLES2
//	darwin:  Metal, Vulkan
//	windows: Vulkan, D3D11, GLES2
//	all:     Headless
//
// # Backend Selection
//
// Selection happens at runtime. Use Select to resolve a configured kind,
// or OpenDefault to walk the priority list until a device opens:
//
//	b, err := backend.Select(backend.Vulkan)
//	if err != nil {
//		log.Fatal(err)
//	}
//	dev, err := b.Open(backend.Config{Width: 800, Height: 600})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Close()
//
// # Frames
//
// A Device renders one frame at a time:
//
//	dev.BeginFrame(nil, gputypes.Color{A: 1})
//	pass := dev.Pass()
//	// ... record draws into pass ...
//	dev.EndFrame()
//	dev.Present()
package backend
