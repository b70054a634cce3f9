// Command run loads one guest module and calls one export.
//
//	run --wasm guest.wasm --func get --arg key
//	run --wasm guest.wasm --list
//	run --wasm guest.wasm --func prove --relay --arg a --arg b
//
// State reads and writes go to the configured store, so repeated runs
// against the same --store-path see each other's writes.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/coordinator"
	"github.com/wippyai/wasm-bridge/host"
	"github.com/wippyai/wasm-bridge/internal/app"
	"github.com/wippyai/wasm-bridge/relay"
	"github.com/wippyai/wasm-bridge/sandbox"
)

type options struct {
	wasmFile string
	funcName string
	args     []string
	hexArgs  bool
	list     bool
	relay    bool
	jsonOut  bool
}

func main() {
	fs := config.FlagSet("run")
	var opts options
	fs.StringVar(&opts.wasmFile, "wasm", "", "Path to the guest module")
	fs.StringVar(&opts.funcName, "func", "", "Export to call")
	fs.StringArrayVar(&opts.args, "arg", nil, "Argument to pass (repeatable)")
	fs.BoolVar(&opts.hexArgs, "hex", false, "Decode --arg values as hex")
	fs.BoolVar(&opts.list, "list", false, "List exports and exit")
	fs.BoolVar(&opts.relay, "relay", false, "Call through the framed-argument relay")
	fs.BoolVar(&opts.jsonOut, "json", false, "Print the result as JSON")
	fs.SortFlags = false

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.wasmFile == "" || (opts.funcName == "" && !opts.list) {
		fmt.Fprintln(os.Stderr, "Usage: run --wasm <file.wasm> --func <name> [--arg value ...] [--relay]")
		fmt.Fprintln(os.Stderr, "       run --wasm <file.wasm> --list")
		os.Exit(2)
	}

	cfg, err := config.FromFlags(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	app.SetLoggers(logger)

	data, err := os.ReadFile(opts.wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	args, err := decodeArgs(opts.args, opts.hexArgs)
	if err != nil {
		return err
	}

	st, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	coord := coordinator.New(st, cfg.CoordinatorOptions()...)
	var g errgroup.Group
	g.Go(func() error {
		return coord.Run(ctx)
	})
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	mods := relay.NewModules()
	hostCfg := cfg.HostConfig(nil)
	if opts.relay {
		hostCfg.Imports = []host.ImportSet{relay.Imports(mods)}
	}
	h, err := host.New(ctx, coord, hostCfg)
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	defer h.Close(context.Background())

	mod := h.Runtime().NewModule(data)
	if err := mod.Init(ctx); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	if opts.list {
		fmt.Printf("Module: %s\n", opts.wasmFile)
		fmt.Printf("Exports:\n")
		for _, name := range mod.Exports() {
			fmt.Printf("  %s\n", name)
		}
		return nil
	}

	var res *sandbox.Result
	if opts.relay {
		source := filepath.Base(opts.wasmFile)
		if err := mods.Add(source, mod); err != nil {
			return fmt.Errorf("relay: %w", err)
		}

		w := relay.New(source)
		if err := w.Init(ctx, h.Runtime()); err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		defer w.Close(context.Background())

		out, err := w.Call(ctx, opts.funcName, args...)
		if err != nil {
			return fmt.Errorf("call %s: %w", opts.funcName, err)
		}
		res = &sandbox.Result{Result: out}
	} else {
		res, err = mod.InvokeExport(ctx, opts.funcName, args...)
		if err != nil {
			return fmt.Errorf("call %s: %w", opts.funcName, err)
		}
	}

	return printResult(res, opts.jsonOut)
}

func decodeArgs(raw []string, asHex bool) ([][]byte, error) {
	args := make([][]byte, len(raw))
	for i, s := range raw {
		if !asHex {
			args[i] = []byte(s)
			continue
		}
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		args[i] = b
	}
	return args, nil
}

func printResult(res *sandbox.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if res.Proof != nil {
		fmt.Printf("Proof bytes:  %s\n", hex.EncodeToString(res.Proof.Bytes))
		fmt.Printf("Proof inputs: %s\n", hex.EncodeToString(res.Proof.Inputs))
	}
	fmt.Printf("Result: %s\n", display(res.Result))
	return nil
}

func display(b []byte) string {
	if utf8.Valid(b) && !strings.ContainsFunc(string(b), isControl) {
		return fmt.Sprintf("%q", b)
	}
	return "0x" + hex.EncodeToString(b)
}

func isControl(r rune) bool {
	return r < 0x20 && r != '\n' && r != '\t'
}
