package ir

import (
	"fmt"

	"github.com/slowlang/stackptx/compiler/tp"
	"tlog.app/go/errors"
)

type (
	// Stub is a compiled ptx fragment for one marker.
	// Outputs are the registers the fragment assigns, in request order.
	Stub struct {
		Code    string
		Outputs []Reg
		Kinds   []tp.Kind

		Instructions int
	}

	// Limits bound a single compilation. All of them are required.
	Limits struct {
		ExecutionLimit          int `yaml:"execution_limit"`
		MaxASTSize              int `yaml:"max_ast_size"`
		MaxASTToVisitStackDepth int `yaml:"max_ast_to_visit_stack_depth"`
		StackSize               int `yaml:"stack_size"`
		MaxFrameDepth           int `yaml:"max_frame_depth"`
		StoreSize               int `yaml:"store_size"`
	}

	// LimitError reports which bound was violated and its configured value.
	LimitError struct {
		Limit string
		Value int
	}
)

const (
	LimitExecution  = "execution_limit"
	LimitASTSize    = "max_ast_size"
	LimitVisitDepth = "max_ast_to_visit_stack_depth"
	LimitStackSize  = "stack_size"
	LimitFrameDepth = "max_frame_depth"
	LimitStoreSize  = "store_size"
)

func (l Limits) Validate() error {
	for _, x := range []struct {
		name string
		val  int
	}{
		{LimitExecution, l.ExecutionLimit},
		{LimitASTSize, l.MaxASTSize},
		{LimitVisitDepth, l.MaxASTToVisitStackDepth},
		{LimitStackSize, l.StackSize},
		{LimitFrameDepth, l.MaxFrameDepth},
		{LimitStoreSize, l.StoreSize},
	} {
		if x.val <= 0 {
			return errors.New("%v must be positive, got %d", x.name, x.val)
		}
	}

	return nil
}

func NewLimitError(limit string, val int) *LimitError {
	return &LimitError{Limit: limit, Value: val}
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s exceeded (limit %d)", e.Limit, e.Value)
}

// Output returns the kind of output reg.
func (s *Stub) Output(reg Reg) (tp.Kind, bool) {
	for i, r := range s.Outputs {
		if r == reg {
			return s.Kinds[i], true
		}
	}

	return tp.Invalid, false
}
