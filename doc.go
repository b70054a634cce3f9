// Package wasmbridge runs sandboxed WebAssembly modules whose state lives in
// a persistent store, reached through synchronous host imports.
//
// A guest calls state_get or state_set and blocks. The host writes the
// request to a coordinator, which serves it from the store and answers
// through a one-slot shared channel; the guest resumes with the value as if
// the call had been local.
//
// # Architecture Overview
//
//	wasmbridge/          Root package with core Memory and Allocator interfaces
//	├── channel/         One-slot shared channel with a signed control word
//	├── coordinator/     Serves state requests from a store
//	├── store/           Store contract, in-memory and LevelDB backends
//	├── sandbox/         wazero runtime, guest modules and the guest ABI
//	├── host/            Env imports, state bridge and action dispatch
//	├── framing/         Length-prefixed argument blocks
//	├── relay/           Calls with any number of byte arguments
//	├── controller/      Correlates host requests and responses
//	├── rpcapi/          JSON-RPC 2.0 front end
//	├── config/          Flag, environment and file settings
//	└── errors/          Structured error types
//
// # Quick Start
//
//	coord := coordinator.New(store.NewMemory())
//	go coord.Run(ctx)
//
//	h, err := host.New(ctx, coord, &host.Config{Verifier: verifierWasm})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close(ctx)
//
//	handle, err := h.InitModule(ctx, guestWasm)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := h.InvokeExport(ctx, handle, "prove", [][]byte{input})
//
// # Thread Safety
//
// Host, Coordinator and Module are safe for concurrent use. Calls into one
// host are serialized: its single shared channel carries one state request
// at a time.
//
// # Memory Model
//
// Buffers the host writes into a guest are allocated through the guest's
// alloc export. Argument buffers and result blocks are released through the
// guest's free export after each call; state_get values belong to the guest.
// The relay module resets its heap after every call.
package wasmbridge
