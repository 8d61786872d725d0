package program

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"

	"tuna/internal/bytecode"
)

func TestLoadParsesMainAndLookups(t *testing.T) {
	doc := `{
		"main": [{"kind": "noop"}],
		"lookups": {
			"schemas": {"greeting": {"kind": "string"}},
			"functions": {"f": [{"kind": "returnVoid"}]}
		}
	}`
	p, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Main) != 1 || p.Main[0].Kind != bytecode.Noop {
		t.Fatalf("Main = %+v", p.Main)
	}
	if _, ok := p.Schemas["greeting"]; !ok {
		t.Fatal("expected schema \"greeting\" to be present")
	}
	if _, ok := p.Functions["f"]; !ok {
		t.Fatal("expected function \"f\" to be present")
	}
}

func TestLoadDefaultsEmptyLookups(t *testing.T) {
	p, err := Load(strings.NewReader(`{"main": []}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.Schemas == nil || p.Functions == nil {
		t.Fatal("Load must default missing lookups to empty maps, not nil")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	if _, err := Load(strings.NewReader(`{not json`)); err == nil {
		t.Fatal("expected an error decoding malformed JSON")
	}
}

func TestLoadKeypairRequiresBothVars(t *testing.T) {
	t.Setenv(publicKeyEnv, "")
	t.Setenv(privateKeyEnv, "")
	if _, _, err := LoadKeypair(); err == nil {
		t.Fatal("expected an error when both env vars are unset")
	}
}

func TestLoadKeypairParsesWhitespaceSeparatedHex(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	pubHex := hex.EncodeToString(pub)
	privHex := hex.EncodeToString(priv)

	spaced := strings.Join(splitPairs(pubHex), " ")
	t.Setenv(publicKeyEnv, spaced)
	t.Setenv(privateKeyEnv, privHex)

	gotPub, gotPriv, err := LoadKeypair()
	if err != nil {
		t.Fatal(err)
	}
	if !gotPub.Equal(pub) {
		t.Fatal("decoded public key does not match the original")
	}
	if !gotPriv.Equal(priv) {
		t.Fatal("decoded private key does not match the original")
	}
}

func TestLoadKeypairRejectsWrongSize(t *testing.T) {
	t.Setenv(publicKeyEnv, "aabb")
	t.Setenv(privateKeyEnv, hex.EncodeToString(make([]byte, ed25519.PrivateKeySize)))
	if _, _, err := LoadKeypair(); err == nil {
		t.Fatal("expected an error for an undersized public key")
	}
}

// splitPairs breaks a hex string into byte-pair chunks, mirroring how the
// original gateway's whitespace-separated key format reads.
func splitPairs(s string) []string {
	var out []string
	for i := 0; i < len(s); i += 2 {
		end := i + 2
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[i:end])
	}
	return out
}
