// cmd/tuna/main.go
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"tuna/internal/exec"
	"tuna/internal/gateway"
	"tuna/internal/program"
	"tuna/internal/value"
)

const VERSION = "0.1.0"

var commandAliases = map[string]string{
	"r": "run",
	"s": "serve",
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		return
	}

	cmd := args[0]
	if alias, ok := commandAliases[cmd]; ok {
		cmd = alias
	}

	if cmd == "--help" || cmd == "-h" || cmd == "help" {
		showUsage()
		return
	}
	if cmd == "--version" || cmd == "-v" || cmd == "version" {
		fmt.Println("tuna " + VERSION)
		return
	}

	switch cmd {
	case "run":
		if err := runCommand(args[1:]); err != nil {
			log.Fatalf("Error: %v", err)
		}
	case "serve":
		if err := serveCommand(args[1:]); err != nil {
			log.Fatalf("Error: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		showUsage()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`tuna - a bytecode VM for the Tuna scripting language

Usage:
  tuna run <program.json> <function> [json-arg]
  tuna serve <program.json> <addr>

Commands:
  run     load a program and invoke one function
  serve   start the HTTP invocation gateway

The signing keypair is read from TUNA_PUBLIC_KEY and TUNA_PRIVATE_KEY
(hex-encoded, whitespace allowed).`)
}

func loadGlobals(path string) (*program.Program, *exec.Globals, error) {
	prog, err := program.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	pub, priv, err := program.LoadKeypair()
	if err != nil {
		return nil, nil, err
	}
	return prog, &exec.Globals{
		Functions:  prog.Functions,
		Schemas:    prog.Schemas,
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

func runCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: tuna run <program.json> <function> [json-arg]")
	}
	_, globals, err := loadGlobals(args[0])
	if err != nil {
		return err
	}
	fname := args[1]

	var arg value.Value
	if len(args) > 2 {
		arg, err = value.Decode([]byte(args[2]))
		if err != nil {
			return fmt.Errorf("decoding argument: %w", err)
		}
	}

	ops, ok := globals.Functions[fname]
	if !ok {
		return fmt.Errorf("unknown function %q", fname)
	}
	state := &exec.State{}
	if arg != nil {
		state.Heap = append(state.Heap, arg)
	}
	result, err := exec.Run(ops, 0, state, globals)
	if err != nil {
		return err
	}
	fmt.Println(value.DebugString(result))
	return nil
}

func serveCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: tuna serve <program.json> <addr>")
	}
	_, globals, err := loadGlobals(args[0])
	if err != nil {
		return err
	}
	addr := args[1]

	gw := gateway.New(globals, map[string]bool{}, 16)
	log.Printf("tuna gateway listening on %s", addr)
	return http.ListenAndServe(addr, gw)
}
