package schemadoc

import (
	"fmt"

	"github.com/valyala/fastjson"
)

// Parse decodes schema document bytes. The top level value must be a JSON
// object.
func Parse(data []byte) (Document, error) {
	v, err := fastjson.ParseBytes(data)
	if err != nil {
		return nil, err
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("schema document is %s, expected object", v.Type())
	}
	out, err := convertValue(v)
	if err != nil {
		return nil, err
	}
	return out.(Document), nil
}

func convertValue(v *fastjson.Value) (any, error) {
	switch v.Type() {
	case fastjson.TypeNull:
		return nil, nil
	case fastjson.TypeObject:
		o, err := v.Object()
		if err != nil {
			return nil, err
		}
		return convertObject(o)
	case fastjson.TypeArray:
		a, err := v.Array()
		if err != nil {
			return nil, err
		}
		return convertArray(a)
	case fastjson.TypeString:
		b, err := v.StringBytes()
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case fastjson.TypeNumber:
		return v.Float64()
	case fastjson.TypeTrue:
		return true, nil
	case fastjson.TypeFalse:
		return false, nil
	}
	return nil, fmt.Errorf("unhandled json value type %s", v.Type())
}

func convertObject(o *fastjson.Object) (Document, error) {
	out := make(Document, o.Len())
	var visitErr error
	o.Visit(func(k []byte, v *fastjson.Value) {
		if visitErr != nil {
			return
		}
		e, err := convertValue(v)
		if err != nil {
			visitErr = err
			return
		}
		out[string(k)] = e
	})
	if visitErr != nil {
		return nil, visitErr
	}
	return out, nil
}

func convertArray(vs []*fastjson.Value) ([]any, error) {
	out := make([]any, len(vs))
	for i, v := range vs {
		e, err := convertValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}
