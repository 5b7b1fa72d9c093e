//go:build linux

package backend

import (
	// Linux HAL drivers register themselves with hal.RegisterBackend.
	_ "github.com/gogpu/wgpu/hal/gles"
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func init() {
	Register(Vulkan, func() Backend { return NewHAL(Vulkan, nil) })
	Register(GLES2, func() Backend { return NewHAL(GLES2, nil) })
}
