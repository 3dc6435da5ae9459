package capability

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

type memoEntry struct {
	service   string
	candidate string
}

// Resolver memoizes which (service, candidate) won for a client shape. A hit is re-bound
// against the live targets and falls back to a full scan if it no longer resolves.
type Resolver struct {
	memo *cache.Cache
}

// NewResolver creates a Resolver whose memo entries expire after ttl.
func NewResolver(ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Resolver{memo: cache.New(ttl, 2*ttl)}
}

// Resolve behaves like ResolveIn.
func (r *Resolver) Resolve(targets []Target, c Capability) (*Handle, error) {
	key, cacheable := memoKey(targets, c)
	if cacheable {
		if hit, ok := r.memo.Get(key); ok {
			entry := hit.(memoEntry)
			for _, t := range targets {
				if t.Name != entry.service {
					continue
				}
				if h := bind(t, entry.candidate); h != nil {
					return h, nil
				}
			}
			r.memo.Delete(key)
		}
	}

	h, err := ResolveIn(targets, c)
	if err != nil {
		return nil, err
	}
	if cacheable {
		r.memo.SetDefault(key, memoEntry{service: h.Service, candidate: h.Candidate})
	}
	return h, nil
}

// memoKey identifies a client shape by its target names and concrete types. Dispatcher
// targets and structs with func fields can differ per instance, so they are never memoized.
func memoKey(targets []Target, c Capability) (string, bool) {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteString("|")
	b.WriteString(strings.Join(c.Operations, ","))
	for _, t := range targets {
		if _, dynamic := t.Value.(Dispatcher); dynamic || hasFuncFields(t.Value) {
			return "", false
		}
		fmt.Fprintf(&b, "|%s=%T", t.Name, t.Value)
		if isAbsent(t.Value) {
			b.WriteString("(nil)")
		}
	}
	return b.String(), true
}

func hasFuncFields(v any) bool {
	sv := structValue(reflect.ValueOf(v))
	if !sv.IsValid() {
		return false
	}
	st := sv.Type()
	for i := 0; i < st.NumField(); i++ {
		if sf := st.Field(i); sf.IsExported() && sf.Type.Kind() == reflect.Func {
			return true
		}
	}
	return false
}
