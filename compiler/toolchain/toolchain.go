package toolchain

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

type (
	// Compiler is the native toolchain. It is used as an opaque service.
	Compiler interface {
		CUDAToPTX(ctx context.Context, src string) (string, error)
		PTXToModule(ctx context.Context, ptx string) ([]byte, error)
	}

	// NVCC runs nvcc and ptxas from the CUDA toolkit.
	NVCC struct {
		NVCC    string
		PTXAS   string
		Arch    string
		Include []string
		Flags   []string
	}
)

func (c NVCC) CUDAToPTX(ctx context.Context, src string) (_ string, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "toolchain: cuda to ptx", "arch", c.Arch)
	defer tr.Finish("err", &err)

	out, err := c.run(ctx, "kernel.cu", []byte(src), "kernel.ptx", c.nvccArgs)
	if err != nil {
		return "", err
	}

	return string(out), nil
}

func (c NVCC) PTXToModule(ctx context.Context, ptx string) (_ []byte, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "toolchain: ptx to module", "arch", c.Arch)
	defer tr.Finish("err", &err)

	return c.run(ctx, "kernel.ptx", []byte(ptx), "kernel.cubin", c.ptxasArgs)
}

func (c NVCC) nvccArgs(in, out string) (string, []string) {
	args := []string{"-ptx"}

	if c.Arch != "" {
		args = append(args, "-arch="+c.Arch)
	}

	for _, inc := range c.Include {
		args = append(args, "-I"+inc)
	}

	args = append(args, c.Flags...)
	args = append(args, "-o", out, in)

	return or(c.NVCC, "nvcc"), args
}

func (c NVCC) ptxasArgs(in, out string) (string, []string) {
	var args []string

	if c.Arch != "" {
		args = append(args, "-arch="+c.Arch)
	}

	args = append(args, "-o", out, in)

	return or(c.PTXAS, "ptxas"), args
}

func (c NVCC) run(ctx context.Context, inName string, data []byte, outName string, argsf func(in, out string) (string, []string)) (_ []byte, err error) {
	dir, err := os.MkdirTemp("", "stackptx")
	if err != nil {
		return nil, errors.Wrap(err, "temp dir")
	}

	defer func() {
		e := os.RemoveAll(dir)
		if err == nil && e != nil {
			err = errors.Wrap(e, "remove temp dir")
		}
	}()

	in := filepath.Join(dir, inName)
	out := filepath.Join(dir, outName)

	err = os.WriteFile(in, data, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "write input")
	}

	bin, args := argsf(in, out)

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr

	tlog.SpanFromContext(ctx).Printw("run", "bin", bin, "args", args)

	err = cmd.Run()
	if err != nil {
		return nil, errors.Wrap(err, "%v: %s", bin, bytes.TrimSpace(stderr.Bytes()))
	}

	res, err := os.ReadFile(out)
	if err != nil {
		return nil, errors.Wrap(err, "read output")
	}

	return res, nil
}

func or(s, def string) string {
	if s != "" {
		return s
	}

	return def
}
