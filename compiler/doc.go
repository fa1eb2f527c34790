/*
Package compiler splices stack programs into annotated ptx.

	CUDA source with PTX_INJECT macros ->
		inject.ProcessCUDA ->
	CUDA source with inline asm markers ->
		(nvcc) ->
	PTX text ->
		inject.Parse ->
	Markers and their argument registers (inject.PTXInject) ->
		regs.Builder.Freeze ->
	Register registry + instruction program ->
		front.Build ->
	Expression graph (ast.Tree) ->
		back.Compile ->
	PTX fragment (ir.Stub) ->
		PTXInject.Render ->
	PTX text ->
		(ptxas) ->
	Loadable module
*/
package compiler
