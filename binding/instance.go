package binding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/schemabind/schemabind/schemadoc"
)

// UnknownFieldError reports a field name the descriptor does not declare.
type UnknownFieldError struct {
	Type string
	Name string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s has no field %q", e.Type, e.Name)
}

// Instance is a dictionary-backed record conforming (or not, until
// Validate says so) to its descriptor's schema. The underlying store keeps
// original JSON keys so serialization round-trips against the source
// schema.
type Instance struct {
	desc *TypeDescriptor
	data map[string]any
}

// New constructs an instance from field values. Keys may be target
// identifiers or raw JSON keys; any subset of declared fields works,
// missing required fields only surface through Validate.
func (d *TypeDescriptor) New(values map[string]any) (*Instance, error) {
	inst := &Instance{desc: d, data: make(map[string]any, len(values))}
	for name, v := range values {
		if err := inst.Set(name, v); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// FromMap constructs an instance directly from a raw JSON mapping without
// key checking, for data that already round-tripped through Dumps.
func (d *TypeDescriptor) FromMap(raw map[string]any) *Instance {
	data := make(map[string]any, len(raw))
	for k, v := range raw {
		data[k] = v
	}
	return &Instance{desc: d, data: data}
}

func (i *Instance) Descriptor() *TypeDescriptor { return i.desc }

// Get returns the value of a field by identifier or JSON key.
func (i *Instance) Get(name string) (any, bool) {
	f, ok := i.desc.Field(name)
	if !ok {
		return nil, false
	}
	v, ok := i.data[f.Key]
	return v, ok
}

// Set assigns a field value. Mutation never triggers validation.
func (i *Instance) Set(name string, value any) error {
	f, ok := i.desc.Field(name)
	if !ok {
		return &UnknownFieldError{Type: i.desc.TypeName, Name: name}
	}
	i.data[f.Key] = value
	return nil
}

// Unset removes a field value.
func (i *Instance) Unset(name string) error {
	f, ok := i.desc.Field(name)
	if !ok {
		return &UnknownFieldError{Type: i.desc.TypeName, Name: name}
	}
	delete(i.data, f.Key)
	return nil
}

// Validate checks the current state against the schema via the external
// validator. An empty result means valid; the returned error is reserved
// for infrastructure failures, never for validation findings.
func (i *Instance) Validate(ctx context.Context) ([]schemadoc.ValidationError, error) {
	if i.desc.gen == nil || i.desc.gen.validate == nil {
		return nil, fmt.Errorf("no validator configured for %s", i.desc.TypeName)
	}
	return i.desc.gen.validate(ctx, i.ToMap(), i.desc.ID)
}

// ToMap copies the underlying JSON representation, original keys intact.
func (i *Instance) ToMap() map[string]any {
	out := make(map[string]any, len(i.data))
	for k, v := range i.data {
		out[k] = v
	}
	return out
}

// Dumps serializes to canonical JSON text using the original JSON keys.
func (i *Instance) Dumps() (string, error) {
	bs, err := json.Marshal(i.data)
	if err != nil {
		return "", err
	}
	return string(bs), nil
}
