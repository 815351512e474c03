// Package wire converts domain values to and from google.protobuf.Struct,
// the message type carried by the protobuf HTTP bodies and the gRPC
// scanner service. Field names follow the JSON tags of the domain types.
package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct encodes v through its JSON form.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("wire: %T is not an object: %w", v, err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("wire: struct: %w", err)
	}
	return s, nil
}

// FromStruct decodes s into v. A nil struct decodes as an empty object.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("wire: protojson: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("wire: unmarshal: %w", err)
	}
	return nil
}

// ToList encodes each element of a slice as a struct inside a ListValue.
func ToList[T any](items []T) (*structpb.ListValue, error) {
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(items))}
	for i, it := range items {
		s, err := ToStruct(it)
		if err != nil {
			return nil, fmt.Errorf("wire: item %d: %w", i, err)
		}
		out.Values = append(out.Values, structpb.NewStructValue(s))
	}
	return out, nil
}

// FromList decodes a ListValue of structs.
func FromList[T any](l *structpb.ListValue) ([]T, error) {
	if l == nil {
		return nil, nil
	}
	out := make([]T, 0, len(l.GetValues()))
	for i, v := range l.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("wire: item %d is not an object", i)
		}
		var item T
		if err := FromStruct(s, &item); err != nil {
			return nil, fmt.Errorf("wire: item %d: %w", i, err)
		}
		out = append(out, item)
	}
	return out, nil
}
