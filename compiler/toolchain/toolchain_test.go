package toolchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNVCCArgs(t *testing.T) {
	c := NVCC{
		Arch:    "sm_80",
		Include: []string{"/opt/inc"},
		Flags:   []string{"-lineinfo"},
	}

	bin, args := c.nvccArgs("a.cu", "a.ptx")
	assert.Equal(t, "nvcc", bin)
	assert.Equal(t, []string{"-ptx", "-arch=sm_80", "-I/opt/inc", "-lineinfo", "-o", "a.ptx", "a.cu"}, args)

	c.PTXAS = "/usr/local/cuda/bin/ptxas"

	bin, args = c.ptxasArgs("a.ptx", "a.cubin")
	assert.Equal(t, "/usr/local/cuda/bin/ptxas", bin)
	assert.Equal(t, []string{"-arch=sm_80", "-o", "a.cubin", "a.ptx"}, args)
}

var _ Compiler = NVCC{}
