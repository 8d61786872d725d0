package schema

import "encoding/json"

// wireSchema is the {"kind","data"} tagged-JSON shape spec.md §6
// requires for schemas, mirroring bytecode.Op's wire format.
type wireSchema struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

type schemaData struct {
	Object map[string]*Schema `json:"object,omitempty"`
	Elem   *Schema            `json:"elem,omitempty"`
	Union  []*Schema          `json:"union,omitempty"`
	Alias  string             `json:"alias,omitempty"`
	Role   string             `json:"role,omitempty"`
	State  *Schema            `json:"state,omitempty"`
}

func (s Schema) MarshalJSON() ([]byte, error) {
	var data schemaData
	switch s.Kind {
	case KindObject:
		data.Object = s.Object
	case KindArray, KindMap:
		data.Elem = s.Elem
	case KindUnion:
		data.Union = s.Union
	case KindAlias:
		data.Alias = s.Alias
	case KindRole:
		data.Role = s.Role
		data.State = s.State
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireSchema{Kind: s.Kind, Data: payload})
}

func (s *Schema) UnmarshalJSON(b []byte) error {
	var w wireSchema
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	s.Kind = w.Kind
	if len(w.Data) == 0 {
		return nil
	}
	var data schemaData
	if err := json.Unmarshal(w.Data, &data); err != nil {
		return err
	}
	s.Object = data.Object
	s.Elem = data.Elem
	s.Union = data.Union
	s.Alias = data.Alias
	s.Role = data.Role
	s.State = data.State
	return nil
}
