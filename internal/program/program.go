// Package program loads a compiled Tuna program off disk: the wire
// format spec.md §6 defines ({main, lookups: {schemas, functions}}),
// plus the Ed25519 keypair every invocation signs roles with. Grounded
// on the original Rust gateway's env-var keypair convention (main.rs)
// and the teacher's habit of keeping config loading a thin, separate
// concern from execution (internal/database/database.go's connection
// setup reads the same way: parse, validate, hand off a plain struct).
package program

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"tuna/internal/bytecode"
	"tuna/internal/schema"
)

// Program is a fully loaded, ready-to-run compile unit.
type Program struct {
	Main      []bytecode.Op
	Schemas   schema.Registry
	Functions map[string][]bytecode.Op
}

type wireProgram struct {
	Main    []bytecode.Op `json:"main"`
	Lookups struct {
		Schemas   schema.Registry            `json:"schemas"`
		Functions map[string][]bytecode.Op  `json:"functions"`
	} `json:"lookups"`
}

// Load parses the §6 program JSON shape.
func Load(r io.Reader) (*Program, error) {
	var w wireProgram
	if err := json.NewDecoder(r).Decode(&w); err != nil {
		return nil, fmt.Errorf("program: decoding: %w", err)
	}
	schemas := w.Lookups.Schemas
	if schemas == nil {
		schemas = schema.Registry{}
	}
	functions := w.Lookups.Functions
	if functions == nil {
		functions = map[string][]bytecode.Op{}
	}
	return &Program{Main: w.Main, Schemas: schemas, Functions: functions}, nil
}

// LoadFile opens path and loads it as a Program.
func LoadFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("program: opening %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

const (
	publicKeyEnv  = "TUNA_PUBLIC_KEY"
	privateKeyEnv = "TUNA_PRIVATE_KEY"
)

// LoadKeypair reads the signing keypair from the environment, hex
// encoded and optionally whitespace-separated into byte pairs (the
// convention the original Rust gateway used for PUBLIC_KEY/PRIVATE_KEY).
func LoadKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pubHex := os.Getenv(publicKeyEnv)
	privHex := os.Getenv(privateKeyEnv)
	if pubHex == "" || privHex == "" {
		return nil, nil, fmt.Errorf("program: %s and %s must both be set", publicKeyEnv, privateKeyEnv)
	}
	pub, err := parseHexKey(pubHex)
	if err != nil {
		return nil, nil, fmt.Errorf("program: parsing %s: %w", publicKeyEnv, err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("program: %s must be %d bytes, got %d", publicKeyEnv, ed25519.PublicKeySize, len(pub))
	}
	priv, err := parseHexKey(privHex)
	if err != nil {
		return nil, nil, fmt.Errorf("program: parsing %s: %w", privateKeyEnv, err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("program: %s must be %d bytes, got %d", privateKeyEnv, ed25519.PrivateKeySize, len(priv))
	}
	return ed25519.PublicKey(pub), ed25519.PrivateKey(priv), nil
}

func parseHexKey(s string) ([]byte, error) {
	stripped := strings.Join(strings.Fields(s), "")
	return hex.DecodeString(stripped)
}
