// Package sandbox loads guest WebAssembly modules into wazero and invokes
// their exports with byte-buffer arguments.
//
// # Quick Start
//
//	rt, err := sandbox.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	mod := rt.NewModule(wasmBytes)
//	if err := mod.Init(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := mod.InvokeExport(ctx, "prove", input)
//
// # Guest ABI
//
// Guests export "memory" and "alloc(size) -> ptr". Each byte argument is
// copied into a fresh allocation and passed as an (i32 ptr, i32 len) pair.
// An export returns either nothing or a single i64 packing ptr<<32 | len of
// a framed block holding one record (the result) or three records (proof
// bytes, proof inputs, result).
//
// Guests may also export "free(ptr, size)" (or "dealloc" taking ptr or
// ptr, size) and "reset()". After a call the host frees every argument
// buffer and the result block through free; reset drops the whole heap and
// is called by Module.Reset. Guests without free keep what the host
// allocates, so their memory grows with every call.
//
// # Host Functions
//
// Host functions are registered per namespace before the first Init and
// receive the calling guest module, so one function set can serve every
// module in the runtime:
//
//	rt.RegisterFunc("env", "log", sandbox.HostFunc{
//	    Fn:     logFn,
//	    Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
//	})
//
// A guest importing a function that is not registered fails Init with an
// *errors.MissingImportsError, which matches errors.ErrMissingImport.
//
// # Errors
//
// Traps and other failures during guest execution surface as sandbox
// faults. A host function that panics with an *errors.Error aborts the call
// and the error is returned with its kind unchanged.
package sandbox
