//go:build windows

package backend

import (
	_ "github.com/gogpu/wgpu/hal/dx12"
	_ "github.com/gogpu/wgpu/hal/gles"
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func init() {
	Register(Vulkan, func() Backend { return NewHAL(Vulkan, nil) })
	Register(D3D11, func() Backend { return NewHAL(D3D11, nil) })
	Register(GLES2, func() Backend { return NewHAL(GLES2, nil) })
}
