// Package rpcapi exposes a host over JSON-RPC 2.0 on HTTP.
//
// Methods are registered under the "bridge" service:
//
//	bridge.InitModule    {"binary": base64}                       -> {"handle": string}
//	bridge.InvokeExport  {"handle", "name", "args": [base64...]}  -> {"proof"?, "result"}
//	bridge.Verify        {"proof": {"bytes", "inputs"}}           -> {"valid": bool}
//	bridge.CloseModule   {"handle"}                               -> {}
//
// Failed calls carry the error kind in the JSON-RPC error data.
package rpcapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/sandbox"
)

// ServiceName is the JSON-RPC service prefix of every method.
const ServiceName = "bridge"

// Controller is the subset of *controller.Client the service calls.
type Controller interface {
	InitModule(ctx context.Context, binary []byte) (string, error)
	InvokeExport(ctx context.Context, handle, name string, args ...[]byte) (*sandbox.Result, error)
	Verify(ctx context.Context, proof sandbox.Proof) (bool, error)
	CloseModule(ctx context.Context, handle string) error
}

// Service is the JSON-RPC receiver.
type Service struct {
	ctrl    Controller
	timeout time.Duration
}

// NewService returns a service over ctrl. A positive timeout bounds every
// call in addition to the HTTP request context.
func NewService(ctrl Controller, timeout time.Duration) *Service {
	return &Service{ctrl: ctrl, timeout: timeout}
}

// NewHandler returns an http.Handler serving svc.
func NewHandler(svc *Service) (http.Handler, error) {
	server := rpc.NewServer()
	codec := json2.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	if err := server.RegisterService(svc, ServiceName); err != nil {
		return nil, err
	}
	return server, nil
}

type InitModuleArgs struct {
	Binary []byte `json:"binary"`
}

type InitModuleReply struct {
	Handle string `json:"handle"`
}

// InitModule loads a guest binary and returns its handle.
func (s *Service) InitModule(r *http.Request, args *InitModuleArgs, reply *InitModuleReply) error {
	ctx, cancel := s.context(r)
	defer cancel()

	handle, err := s.ctrl.InitModule(ctx, args.Binary)
	if err != nil {
		return rpcError("InitModule", err)
	}
	reply.Handle = handle
	return nil
}

type InvokeExportArgs struct {
	Handle string   `json:"handle"`
	Name   string   `json:"name"`
	Args   [][]byte `json:"args"`
}

// InvokeExport calls an export of a loaded module.
func (s *Service) InvokeExport(r *http.Request, args *InvokeExportArgs, reply *sandbox.Result) error {
	ctx, cancel := s.context(r)
	defer cancel()

	res, err := s.ctrl.InvokeExport(ctx, args.Handle, args.Name, args.Args...)
	if err != nil {
		return rpcError("InvokeExport", err)
	}
	*reply = *res
	return nil
}

type VerifyArgs struct {
	Proof sandbox.Proof `json:"proof"`
}

type VerifyReply struct {
	Valid bool `json:"valid"`
}

// Verify checks a proof with the host's verifier module.
func (s *Service) Verify(r *http.Request, args *VerifyArgs, reply *VerifyReply) error {
	ctx, cancel := s.context(r)
	defer cancel()

	ok, err := s.ctrl.Verify(ctx, args.Proof)
	if err != nil {
		return rpcError("Verify", err)
	}
	reply.Valid = ok
	return nil
}

type CloseModuleArgs struct {
	Handle string `json:"handle"`
}

type EmptyReply struct{}

// CloseModule releases a loaded module.
func (s *Service) CloseModule(r *http.Request, args *CloseModuleArgs, _ *EmptyReply) error {
	ctx, cancel := s.context(r)
	defer cancel()

	if err := s.ctrl.CloseModule(ctx, args.Handle); err != nil {
		return rpcError("CloseModule", err)
	}
	return nil
}

func (s *Service) context(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(r.Context(), s.timeout)
	}
	return context.WithCancel(r.Context())
}

// rpcError maps err to a JSON-RPC error. Caller mistakes become invalid
// params; everything else is a server error. Data holds the error kind.
func rpcError(method string, err error) *json2.Error {
	kind := errors.KindOf(err)

	code := json2.E_SERVER
	if errors.IsContractViolation(err) || kind == errors.KindMissingImport {
		code = json2.E_BAD_PARAMS
	}

	Logger().Debug("rpc call failed",
		zap.String("method", method),
		zap.String("kind", string(kind)),
		zap.Error(err))

	return &json2.Error{
		Code:    code,
		Message: err.Error(),
		Data:    string(kind),
	}
}
