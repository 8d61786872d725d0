package schema

import (
	"crypto/ed25519"
	"testing"

	"tuna/internal/value"
)

func TestAdheresScalarsAndDoubleAcceptsInt(t *testing.T) {
	intSchema := &Schema{Kind: KindInt}
	if !intSchema.Adheres(int64(1), nil, nil) {
		t.Fatal("int schema should adhere to an int64 value")
	}
	if intSchema.Adheres(float64(1), nil, nil) {
		t.Fatal("int schema should not adhere to a double value")
	}

	doubleSchema := &Schema{Kind: KindDouble}
	if !doubleSchema.Adheres(float64(1.5), nil, nil) {
		t.Fatal("double schema should adhere to a double value")
	}
	if !doubleSchema.Adheres(int64(1), nil, nil) {
		t.Fatal("double schema must also accept ints (§4.3)")
	}
}

func TestAdheresObjectExtraKeyRejected(t *testing.T) {
	s := &Schema{Kind: KindObject, Object: map[string]*Schema{
		"k": {Kind: KindInt},
	}}
	ok := value.NewObject()
	ok.Fields["k"] = int64(1)
	if !s.Adheres(ok, nil, nil) {
		t.Fatal("object with exactly the declared fields should adhere")
	}

	extra := value.NewObject()
	extra.Fields["k"] = int64(1)
	extra.Fields["unexpected"] = int64(2)
	if s.Adheres(extra, nil, nil) {
		t.Fatal("object schema should reject unknown extra keys")
	}
}

func TestAdheresMapAllowsArbitraryKeys(t *testing.T) {
	s := &Schema{Kind: KindMap, Elem: &Schema{Kind: KindInt}}
	obj := value.NewObject()
	obj.Fields["anything"] = int64(1)
	obj.Fields["whatever"] = int64(2)
	if !s.Adheres(obj, nil, nil) {
		t.Fatal("map schema should allow arbitrary keys as long as values adhere")
	}
}

func TestAdheresUnionShortCircuits(t *testing.T) {
	s := &Schema{Kind: KindUnion, Union: []*Schema{
		{Kind: KindInt},
		{Kind: KindString},
	}}
	if !s.Adheres(int64(1), nil, nil) {
		t.Fatal("union should adhere via its first matching branch")
	}
	if !s.Adheres("x", nil, nil) {
		t.Fatal("union should adhere via its second matching branch")
	}
	if s.Adheres(true, nil, nil) {
		t.Fatal("union should reject values matching no branch")
	}
}

func TestAdheresAliasUnknownIsFalse(t *testing.T) {
	s := &Schema{Kind: KindAlias, Alias: "missing"}
	if s.Adheres(int64(1), Registry{}, nil) {
		t.Fatal("alias to an unregistered name must not adhere")
	}
}

func TestAdheresRoleSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	stateSchema := &Schema{Kind: KindObject, Object: map[string]*Schema{
		"balance": {Kind: KindInt},
	}}
	roleSchema := &Schema{Kind: KindRole, Role: "account", State: stateSchema}

	state := value.NewObject()
	state.Fields["balance"] = int64(100)

	msg := value.RoleMessage("account", state)
	sig := ed25519.Sign(priv, msg)

	sigArr := value.NewArray()
	for _, b := range sig {
		sigArr.Elements = append(sigArr.Elements, int64(b))
	}

	role := value.NewObject()
	role.Fields["_name"] = "account"
	role.Fields["_state"] = state
	role.Fields["_sig"] = sigArr

	if !roleSchema.Adheres(role, Registry{}, pub) {
		t.Fatal("a correctly signed role must adhere to its own role(name, state-schema)")
	}

	wrongPub, _, _ := ed25519.GenerateKey(nil)
	if roleSchema.Adheres(role, Registry{}, wrongPub) {
		t.Fatal("a role signed with a different key must not adhere")
	}
}

func TestAdheresIdempotent(t *testing.T) {
	s := &Schema{Kind: KindString}
	for i := 0; i < 3; i++ {
		if s.Adheres("x", nil, nil) != true {
			t.Fatal("Adheres must have no side effects across repeated calls")
		}
	}
}
