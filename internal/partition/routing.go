package partition

import (
	"fmt"
	"sort"

	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/pkg/types"
)

// Router computes partition tuples for rows under a spec.
type Router struct {
	spec    *Spec
	sources []schema.Field
}

// Group is the set of rows that share a partition tuple.
type Group struct {
	Partition Tuple
	Rows      []types.Row
}

// NewRouter creates a router for spec over sch.
func NewRouter(spec *Spec, sch *schema.Schema) (*Router, error) {
	if err := spec.Validate(sch); err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}
	sources := make([]schema.Field, len(spec.Fields))
	for i, f := range spec.Fields {
		sources[i], _ = sch.FieldByID(f.SourceID)
	}
	return &Router{spec: spec, sources: sources}, nil
}

// RouteRow computes the partition tuple for a single row.
func (r *Router) RouteRow(row types.Row) (Tuple, error) {
	tuple := make(Tuple, len(r.spec.Fields))
	for i, f := range r.spec.Fields {
		src := r.sources[i]
		v, err := types.Coerce(src.Type, row[src.Name])
		if err != nil {
			return nil, fmt.Errorf("routing: column %q: %w", src.Name, err)
		}
		tuple[i], err = f.Transform.Apply(v)
		if err != nil {
			return nil, fmt.Errorf("routing: partition field %q: %w", f.Name, err)
		}
	}
	return tuple, nil
}

// RouteRows groups rows by partition tuple. Groups are returned in a
// deterministic order.
func (r *Router) RouteRows(rows []types.Row) ([]*Group, error) {
	groups := make(map[string]*Group)
	for _, row := range rows {
		tuple, err := r.RouteRow(row)
		if err != nil {
			return nil, fmt.Errorf("routing: failed to route row: %w", err)
		}
		key := tuple.Key()
		g, ok := groups[key]
		if !ok {
			g = &Group{Partition: tuple}
			groups[key] = g
		}
		g.Rows = append(g.Rows, row)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Group, len(keys))
	for i, k := range keys {
		out[i] = groups[k]
	}
	return out, nil
}
