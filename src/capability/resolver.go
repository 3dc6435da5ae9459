// Package capability finds, on a client whose surface varies between builds, the first
// operation from an ordered candidate list that can actually be called.
package capability

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Args is the argument object handed to an upstream operation.
type Args map[string]any

// Operation is the uniform calling convention every resolved handle is adapted to.
type Operation func(ctx context.Context, args Args) (any, error)

// Dispatcher is implemented by clients whose operations only exist at runtime,
// for example a registry filled from a discovery document.
type Dispatcher interface {
	Operations() []string
	Lookup(name string) (Operation, bool)
}

// Candidates is an ordered list of surface names for one logical capability.
// Order encodes preference; the first callable name wins.
type Candidates []string

// Target is one named object to search, typically a service field of an SDK client.
type Target struct {
	Name  string
	Value any
}

// Capability groups the candidate names of a logical operation with the services,
// in preference order, expected to carry it. An empty Services list searches every target.
type Capability struct {
	Name       string
	Services   []string
	Operations Candidates
}

// Handle is a resolved operation bound to the object it was found on.
type Handle struct {
	Service   string
	Name      string // name as declared on the client
	Candidate string // candidate entry that matched
	op        Operation
}

// Call invokes the bound operation.
func (h *Handle) Call(ctx context.Context, args Args) (any, error) {
	return h.op(ctx, args)
}

// QualifiedName is "service.Name", or just Name for an unnamed target.
func (h *Handle) QualifiedName() string {
	return qualify(h.Service, h.Name)
}

// ResolutionError reports that no candidate was callable. Available lists every callable
// name actually present so the caller can see what the client offers.
type ResolutionError struct {
	Capability string
	Candidates []string
	Available  []string
}

func (e *ResolutionError) Error() string {
	name := e.Capability
	if name == "" {
		name = "operation"
	}
	return fmt.Sprintf("no %s operation found among candidates [%s]; available: [%s]",
		name, strings.Join(e.Candidates, ", "), strings.Join(e.Available, ", "))
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	argsType    = reflect.TypeOf(Args{})
)

// Resolve returns the first candidate callable on client.
func Resolve(client any, candidates Candidates) (*Handle, error) {
	return ResolveIn([]Target{{Value: client}}, Capability{Operations: candidates})
}

// ResolveIn searches the capability's services in preference order and, within each
// service, the candidates in order. The returned handle is bound to its service.
func ResolveIn(targets []Target, c Capability) (*Handle, error) {
	for _, t := range orderTargets(targets, c.Services) {
		for _, cand := range c.Operations {
			if h := bind(t, cand); h != nil {
				return h, nil
			}
		}
	}
	return nil, &ResolutionError{
		Capability: c.Name,
		Candidates: append([]string(nil), c.Operations...),
		Available:  Available(targets),
	}
}

// Available lists every callable name on the targets, sorted and qualified by service.
func Available(targets []Target) []string {
	var out []string
	for service, names := range Inventory(targets) {
		for _, n := range names {
			out = append(out, qualify(service, n))
		}
	}
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out
}

// Inventory maps each present target to its callable names: func-typed fields (own),
// methods including those promoted from embedded types (inherited), and Dispatcher names.
func Inventory(targets []Target) map[string][]string {
	inv := make(map[string][]string, len(targets))
	for _, t := range targets {
		if isAbsent(t.Value) {
			continue
		}
		inv[t.Name] = listCallable(t.Value)
	}
	return inv
}

func orderTargets(targets []Target, services []string) []Target {
	if len(services) == 0 {
		return targets
	}
	ordered := make([]Target, 0, len(services))
	for _, s := range services {
		for _, t := range targets {
			if t.Name == s {
				ordered = append(ordered, t)
				break
			}
		}
	}
	return ordered
}

func bind(t Target, candidate string) *Handle {
	if isAbsent(t.Value) {
		return nil
	}
	op, name, ok := lookup(t.Value, candidate)
	if !ok {
		return nil
	}
	return &Handle{Service: t.Name, Name: name, Candidate: candidate, op: op}
}

// lookup checks, per spelling, dynamic operations, then own func fields, then methods.
func lookup(v any, candidate string) (Operation, string, bool) {
	for _, name := range spellings(candidate) {
		if d, ok := v.(Dispatcher); ok {
			if op, found := d.Lookup(name); found && op != nil {
				return op, name, true
			}
		}

		rv := reflect.ValueOf(v)
		if sv := structValue(rv); sv.IsValid() {
			if sf, found := sv.Type().FieldByName(name); found && sf.IsExported() {
				f := sv.FieldByIndex(sf.Index)
				if f.Kind() == reflect.Func && !f.IsNil() {
					if op, ok := adapt(f); ok {
						return op, name, true
					}
				}
			}
		}

		if m := rv.MethodByName(name); m.IsValid() {
			if op, ok := adapt(m); ok {
				return op, name, true
			}
		}
	}
	return nil, "", false
}

// spellings yields the candidate as written and its exported form (getHoldings -> GetHoldings).
func spellings(candidate string) []string {
	if candidate == "" {
		return nil
	}
	r, size := utf8.DecodeRuneInString(candidate)
	upper := string(unicode.ToUpper(r)) + candidate[size:]
	if upper == candidate {
		return []string{candidate}
	}
	return []string{candidate, upper}
}

// adapt wraps fn in the Operation calling convention when its signature is one of
// func(ctx, Args) (R, error), func(ctx) (R, error), func(Args) (R, error), func() (R, error).
func adapt(fn reflect.Value) (Operation, bool) {
	t := fn.Type()
	if t.IsVariadic() || t.NumOut() != 2 || t.Out(1) != errorType || t.NumIn() > 2 {
		return nil, false
	}

	wantCtx, wantArgs := false, false
	var argsParam reflect.Type
	switch t.NumIn() {
	case 2:
		if t.In(0) != contextType || !acceptsArgs(t.In(1)) {
			return nil, false
		}
		wantCtx, wantArgs, argsParam = true, true, t.In(1)
	case 1:
		switch {
		case t.In(0) == contextType:
			wantCtx = true
		case acceptsArgs(t.In(0)):
			wantArgs, argsParam = true, t.In(0)
		default:
			return nil, false
		}
	}

	op := func(ctx context.Context, args Args) (any, error) {
		if ctx == nil {
			ctx = context.Background()
		}
		if args == nil {
			args = Args{}
		}
		in := make([]reflect.Value, 0, 2)
		if wantCtx {
			in = append(in, reflect.ValueOf(&ctx).Elem())
		}
		if wantArgs {
			av := reflect.ValueOf(args)
			if !argsType.AssignableTo(argsParam) {
				av = av.Convert(argsParam)
			}
			in = append(in, av)
		}
		out := fn.Call(in)
		var err error
		if e := out[1]; !e.IsNil() {
			err = e.Interface().(error)
		}
		return resultValue(out[0]), err
	}
	return op, true
}

func acceptsArgs(p reflect.Type) bool {
	return argsType.AssignableTo(p) || (p.Kind() == reflect.Map && argsType.ConvertibleTo(p))
}

func resultValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		if v.IsNil() {
			return nil
		}
	}
	return v.Interface()
}

func listCallable(v any) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}

	if d, ok := v.(Dispatcher); ok {
		for _, n := range d.Operations() {
			if op, found := d.Lookup(n); found && op != nil {
				add(n)
			}
		}
	}

	rv := reflect.ValueOf(v)
	if sv := structValue(rv); sv.IsValid() {
		st := sv.Type()
		for i := 0; i < st.NumField(); i++ {
			sf := st.Field(i)
			if !sf.IsExported() || sf.Type.Kind() != reflect.Func {
				continue
			}
			if !sv.Field(i).IsNil() {
				add(sf.Name)
			}
		}
	}

	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		if _, isDispatch := dispatcherMethods[m.Name]; isDispatch && implementsDispatcher(v) {
			continue
		}
		add(m.Name)
	}

	sort.Strings(names)
	return names
}

var dispatcherMethods = map[string]struct{}{"Operations": {}, "Lookup": {}}

func implementsDispatcher(v any) bool {
	_, ok := v.(Dispatcher)
	return ok
}

func structValue(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	return rv
}

func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func:
		return rv.IsNil()
	}
	return false
}

func qualify(service, name string) string {
	if service == "" {
		return name
	}
	return service + "." + name
}
