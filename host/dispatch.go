package host

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/sandbox"
)

// Action names a top-level host operation.
type Action string

const (
	ActionVerify       Action = "verify"
	ActionInitModule   Action = "init_module"
	ActionInvokeExport Action = "invoke_export"
	ActionCloseModule  Action = "close_module"
)

// OperationResult is the Operation of every Response.
const OperationResult = "result"

// Request asks the host to run one action.
//
//	verify         Args: [proof]                 proof is sandbox.Proof or *sandbox.Proof
//	init_module    Args: [binary]
//	invoke_export  Args: [handle, name, arg...]
//	close_module   Args: [handle]
type Request struct {
	ID     string
	Action Action
	Args   []any
}

// Response carries the outcome of a Request. Result is bool for verify,
// the handle string for init_module, *sandbox.Result for invoke_export and
// nil for close_module.
type Response struct {
	Result    any
	Err       error
	Operation string
	ID        string
	Action    Action
}

// Serve runs requests from in one at a time and sends each response to out.
// It returns when in is closed or ctx is done.
func (h *Host) Serve(ctx context.Context, in <-chan Request, out chan<- Response) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-in:
			if !ok {
				return nil
			}
			resp := h.Dispatch(ctx, req)
			select {
			case out <- resp:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Dispatch runs one request synchronously.
func (h *Host) Dispatch(ctx context.Context, req Request) Response {
	result, err := h.dispatch(ctx, req)
	if err != nil {
		Logger().Debug("action failed",
			zap.String("id", req.ID),
			zap.String("action", string(req.Action)),
			zap.Error(err))
	}
	return Response{
		Operation: OperationResult,
		ID:        req.ID,
		Action:    req.Action,
		Result:    result,
		Err:       err,
	}
}

func (h *Host) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Action {
	case ActionVerify:
		if err := wantArgs(req, 1, 1); err != nil {
			return nil, err
		}
		proof, err := toProof(req.Args[0])
		if err != nil {
			return nil, err
		}
		return h.Verify(ctx, proof)

	case ActionInitModule:
		if err := wantArgs(req, 1, 1); err != nil {
			return nil, err
		}
		binary, err := sandbox.ToBytes(req.Args[0])
		if err != nil {
			return nil, err
		}
		return h.InitModule(ctx, binary)

	case ActionInvokeExport:
		if err := wantArgs(req, 2, -1); err != nil {
			return nil, err
		}
		handle, err := toString(req.Args[0], "handle")
		if err != nil {
			return nil, err
		}
		name, err := toString(req.Args[1], "name")
		if err != nil {
			return nil, err
		}
		args, err := sandbox.ToBytesList(req.Args[2:])
		if err != nil {
			return nil, err
		}
		return h.InvokeExport(ctx, handle, name, args)

	case ActionCloseModule:
		if err := wantArgs(req, 1, 1); err != nil {
			return nil, err
		}
		handle, err := toString(req.Args[0], "handle")
		if err != nil {
			return nil, err
		}
		return nil, h.CloseModule(ctx, handle)

	default:
		return nil, errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Value(string(req.Action)).
			Detail("unknown action %q", req.Action).
			Build()
	}
}

// wantArgs checks lo <= len(req.Args) <= hi; a negative hi means no upper
// bound.
func wantArgs(req Request, lo, hi int) error {
	n := len(req.Args)
	if n < lo || (hi >= 0 && n > hi) {
		return errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Path(string(req.Action)).
			Value(n).
			Detail("wrong number of arguments: %d", n).
			Build()
	}
	return nil
}

func toString(v any, what string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.TypeError(errors.PhaseDispatch, []string{what}, fmt.Sprintf("%T", v), "expected a string")
	}
	return s, nil
}

func toProof(v any) (sandbox.Proof, error) {
	switch p := v.(type) {
	case sandbox.Proof:
		return p, nil
	case *sandbox.Proof:
		if p != nil {
			return *p, nil
		}
	}
	return sandbox.Proof{}, errors.TypeError(errors.PhaseDispatch, []string{"proof"}, fmt.Sprintf("%T", v), "expected a proof")
}
