//go:build darwin

package backend

import (
	// Metal is native; Vulkan runs through MoltenVK.
	_ "github.com/gogpu/wgpu/hal/metal"
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func init() {
	Register(Metal, func() Backend { return NewHAL(Metal, nil) })
	Register(Vulkan, func() Backend { return NewHAL(Vulkan, nil) })
}
