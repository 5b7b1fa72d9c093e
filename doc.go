// Package gpuq is a deferred GPU command subsystem.
//
// # Overview
//
// Game logic runs on many goroutines, but a graphics device wants every
// native call on one thread. gpuq splits the two: producers call Renderer
// methods from anywhere, each call becomes an immutable task on a FIFO
// queue, and a single render thread executes the tasks against the
// selected backend.
//
// # Quick Start
//
//	import "github.com/gogpu/gpuq"
//
//	r, err := gpuq.New(gpuq.DefaultSettings())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := r.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Shutdown(task.ShutdownDrain)
//
//	vbo, _ := r.CreateBuffer(proxy.BufferVertex, proxy.UsageStatic, vertices)
//	prog, err := r.CreateShaderProgram(vsWGSL, fsWGSL)
//
//	r.BeginRender(nil, gputypes.Color{A: 1})
//	r.UseProgram(prog)
//	r.BindVertexBuffer(vbo, 0)
//	r.DrawArrays(0, 3, 1)
//	r.EndRender()
//	r.Present()
//
// # Resources
//
// Factories return proxies (package proxy) immediately, in the Uncreated
// state. The native object is created when the creation task runs on the
// render thread. Because the queue is FIFO per producer, a proxy may be
// used in later calls right away. A proxy is released only by its destroy
// task, queued with Renderer.Destroy.
//
// # Threads
//
// With ThreadDedicated the renderer starts its own goroutine locked to an
// OS thread. With ThreadCaller the goroutine that called Initialize is the
// render thread and must call Renderer.Drain once per frame.
//
// # Backends
//
// The backend is chosen at run time from Settings.Backend through the
// registry in package backend: OpenGL ES, Vulkan, Metal, Direct3D and a
// headless backend that needs no GPU.
//
// # Architecture
//
// The module is organized into:
//   - gpuq: Renderer, Settings, logging
//   - task: task kinds, the queue and render-thread state
//   - proxy: buffers, textures, programs, render targets
//   - shader: WGSL cross-compilation and reflection
//   - upload: texture upload blocks and DDS/KTX/PVR parsers
//   - backend: devices and the backend registry
package gpuq
