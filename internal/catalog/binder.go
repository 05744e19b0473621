package catalog

import (
	"encoding/json"
	"reflect"

	"github.com/kestrel-rpc/jrpc/internal/rpc"
)

// candidate tracks one admitted overload during binding, along with the
// slots it matched, so pickBest can rank candidates without re-deriving
// the match.
type candidate struct {
	desc              *Descriptor
	args              []reflect.Value
	matched           int
	unmatchedOptional int
}

// decodeFailure records a parameter that matched an overload's shape
// (the right position or name was supplied) but whose value failed to
// decode to the declared type, so Bind can surface the offending
// parameter name even when no candidate is ultimately admitted.
type decodeFailure struct {
	method string
	param  string
	err    error
}

func (f *decodeFailure) rpcError() *rpc.Error {
	return rpc.NewError(rpc.CodeInvalidParams, "Invalid params", map[string]string{
		"method": f.method,
		"param":  f.param,
		"reason": f.err.Error(),
	})
}

// Bind selects at most one Descriptor from the overload set registered
// under method and produces its positional argument vector. The returned
// *rpc.Error, when non-nil, is always one of MethodNotFound or
// InvalidParams.
func Bind(cat *Catalog, method string, params json.RawMessage) (*Descriptor, []reflect.Value, *rpc.Error) {
	set := cat.Lookup(method)
	if len(set) == 0 {
		return nil, nil, rpc.NewError(rpc.CodeMethodNotFound, "Method not found", map[string]string{"method": method})
	}

	kind := paramsKind(params)

	var candidates []candidate
	var lastDecodeFailure *decodeFailure
	for _, d := range set {
		switch kind {
		case paramsArray:
			var raw []json.RawMessage
			if err := json.Unmarshal(params, &raw); err != nil {
				continue
			}
			cand, ok, df := bindPositional(d, raw)
			if ok {
				candidates = append(candidates, cand)
			} else if df != nil {
				lastDecodeFailure = df
			}
		case paramsObject:
			var raw map[string]json.RawMessage
			if err := json.Unmarshal(params, &raw); err != nil {
				continue
			}
			cand, ok, df := bindByName(d, raw)
			if ok {
				candidates = append(candidates, cand)
			} else if df != nil {
				lastDecodeFailure = df
			}
		default: // absent or null
			if d.requiredCount() == 0 {
				cand, ok, df := bindPositional(d, nil)
				if ok {
					candidates = append(candidates, cand)
				} else if df != nil {
					lastDecodeFailure = df
				}
			}
		}
	}

	best, err := pickBest(candidates, method, lastDecodeFailure)
	if err != nil {
		return nil, nil, err
	}
	return best.desc, best.args, nil
}

type paramsShape int

const (
	paramsAbsent paramsShape = iota
	paramsArray
	paramsObject
)

func paramsKind(params json.RawMessage) paramsShape {
	trimmed := trimSpace(params)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return paramsAbsent
	}
	switch trimmed[0] {
	case '[':
		return paramsArray
	case '{':
		return paramsObject
	default:
		return paramsAbsent
	}
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isJSONSpace(b[i]) {
		i++
	}
	for j > i && isJSONSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// bindPositional applies the sequence-form rule: admitted iff the
// supplied count is between the required count and the total count
// (unbounded above when AllowExtra is set). The returned
// *decodeFailure is non-nil only when the candidate matched the shape
// but a supplied value failed to decode to its declared type.
func bindPositional(d *Descriptor, values []json.RawMessage) (candidate, bool, *decodeFailure) {
	required := d.requiredCount()
	total := len(d.Params)

	if len(values) < required {
		return candidate{}, false, nil
	}
	if !d.AllowExtra && len(values) > total {
		return candidate{}, false, nil
	}

	args := make([]reflect.Value, total)
	matched := 0
	for i, p := range d.Params {
		if i < len(values) {
			v, err := decodeParam(values[i], p.Type)
			if err != nil {
				return candidate{}, false, &decodeFailure{param: p.Name, err: err}
			}
			args[i] = v
			matched++
		} else {
			args[i] = defaultValue(p)
		}
	}

	unmatchedOptional := 0
	for i := len(values); i < total; i++ {
		unmatchedOptional++
	}

	return candidate{desc: d, args: args, matched: matched, unmatchedOptional: unmatchedOptional}, true, nil
}

// bindByName applies the object-form rule: admitted iff every required
// parameter name is present and every supplied name is
// declared (or the candidate allows extras). The returned *decodeFailure
// is non-nil only when the candidate matched the shape but a supplied
// value failed to decode to its declared type.
func bindByName(d *Descriptor, fields map[string]json.RawMessage) (candidate, bool, *decodeFailure) {
	declared := paramNameSet(d)
	if !d.AllowExtra {
		for name := range fields {
			if !declared[name] {
				return candidate{}, false, nil
			}
		}
	}

	args := make([]reflect.Value, len(d.Params))
	matched := 0
	unmatchedOptional := 0
	for i, p := range d.Params {
		raw, present := fields[p.Name]
		if !present {
			if !p.Optional {
				return candidate{}, false, nil
			}
			args[i] = defaultValue(p)
			unmatchedOptional++
			continue
		}
		v, err := decodeParam(raw, p.Type)
		if err != nil {
			return candidate{}, false, &decodeFailure{param: p.Name, err: err}
		}
		args[i] = v
		matched++
	}

	return candidate{desc: d, args: args, matched: matched, unmatchedOptional: unmatchedOptional}, true, nil
}

func decodeParam(raw json.RawMessage, t reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}

func defaultValue(p Param) reflect.Value {
	if p.Default != nil {
		v := reflect.ValueOf(p.Default)
		if v.Type().AssignableTo(p.Type) {
			return v
		}
	}
	return reflect.Zero(p.Type)
}

// pickBest ranks admitted candidates: most matched declared params
// wins; ties broken by fewest unmatched optional params; further ties
// are an ambiguous overload surfaced as InvalidParams. decodeFail, when
// non-nil, is the last parameter-decode failure observed while matching
// the overload set; it is surfaced, naming the offending parameter in
// the InvalidParams error's data, when no candidate was admitted at all.
func pickBest(candidates []candidate, method string, decodeFail *decodeFailure) (candidate, *rpc.Error) {
	if len(candidates) == 0 {
		if decodeFail != nil {
			decodeFail.method = method
			return candidate{}, decodeFail.rpcError()
		}
		return candidate{}, rpc.NewError(rpc.CodeInvalidParams, "Invalid params",
			map[string]string{"method": method, "reason": "no overload accepts the supplied params"})
	}

	best := candidates[0]
	tied := []candidate{best}
	for _, c := range candidates[1:] {
		switch {
		case c.matched > best.matched,
			c.matched == best.matched && c.unmatchedOptional < best.unmatchedOptional:
			best = c
			tied = []candidate{c}
		case c.matched == best.matched && c.unmatchedOptional == best.unmatchedOptional:
			tied = append(tied, c)
		}
	}

	if len(tied) > 1 {
		return candidate{}, rpc.NewError(rpc.CodeInvalidParams, "Invalid params",
			map[string]string{"method": method, "reason": "ambiguous overload"})
	}
	return best, nil
}
