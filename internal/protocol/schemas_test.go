package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"taintgrid.ai/internal/protocol"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

func asJSON(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestSchemas_ValidateSamples(t *testing.T) {
	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compileSchema(t, "hello.schema.json")
	welcomeSchema := compileSchema(t, "welcome.schema.json")
	opSchema := compileSchema(t, "op.schema.json")
	resultSchema := compileSchema(t, "result.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{"type":"HELLO","protocol_version":"1.0","client":"colony-sim"}`), &hello)
	validate(helloSchema, hello)

	validate(welcomeSchema, asJSON(t, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "7c1e",
		Tick:            12,
		TickRateHz:      10,
	}))

	var equalize any
	_ = json.Unmarshal([]byte(`{
	  "type":"OP",
	  "id":"r1",
	  "op":"EQUALIZE",
	  "target":{"object":"pawn_1"},
	  "other":{"underfoot":"pawn_1"},
	  "factor_key":"rest_equalize",
	  "overrides":[{"object":"pawn_1","region":"map_0"}]
	}`), &equalize)
	validate(opSchema, equalize)

	amount, factor := 0.5, 0.25
	validate(opSchema, asJSON(t, protocol.OpMsg{
		Type:    protocol.TypeOp,
		Op:      protocol.OpTransfer,
		Target:  &protocol.TargetRef{Object: "meal"},
		Targets: []protocol.TargetRef{{Object: "pawn_1"}, {Region: "map_0", Cell: &[2]int{3, 4}}},
		Split:   protocol.SplitWeights,
		Weights: []float64{2, 1},
		Amount:  &amount,
		Factor:  &factor,
	}))

	validate(resultSchema, asJSON(t, protocol.ResultMsg{
		Type: protocol.TypeResult, ProtocolVersion: protocol.Version, ID: "r1", OK: true, Value: 0.4, Applied: -0.1, Moved: 0.1,
	}))
	validate(resultSchema, asJSON(t, protocol.Fail("r2", protocol.ErrBadConfig, "unknown factor_key")))
}

func TestSchemas_RejectMalformedOps(t *testing.T) {
	opSchema := compileSchema(t, "op.schema.json")
	bad := []string{
		`{"type":"OP","op":"EXPLODE"}`,
		`{"type":"OP","op":"GET","target":{"object":"a","underfoot":"a"}}`,
		`{"type":"OP","op":"GET","target":{"region":"r"}}`,
		`{"type":"OP","op":"SET_CELL","cell":[1]}`,
		`{"type":"OP","op":"TRANSFER","split":"RANDOM"}`,
	}
	for _, s := range bad {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			t.Fatalf("bad sample json %s: %v", s, err)
		}
		if err := opSchema.Validate(v); err == nil {
			t.Fatalf("expected schema error for %s", s)
		}
	}
}
