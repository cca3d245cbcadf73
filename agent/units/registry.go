package units

import (
	"fmt"
	"sort"
	"strings"

	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

// Registry is the fixed set of decision units known to the router.
// It is built once and never modified, so it is safe for concurrent reads.
type Registry struct {
	units map[contractx.UnitID]contractx.DecisionUnit
	ids   []contractx.UnitID
}

func NewRegistry(list ...contractx.DecisionUnit) (*Registry, error) {
	r := &Registry{units: make(map[contractx.UnitID]contractx.DecisionUnit, len(list))}
	for _, u := range list {
		if u == nil {
			return nil, fmt.Errorf("%w: nil decision unit", contractx.ErrConfiguration)
		}
		id := u.ID()
		if strings.TrimSpace(string(id)) == "" {
			return nil, fmt.Errorf("%w: decision unit with empty id", contractx.ErrConfiguration)
		}
		if _, dup := r.units[id]; dup {
			return nil, fmt.Errorf("%w: duplicate decision unit %s", contractx.ErrConfiguration, id)
		}
		r.units[id] = u
		r.ids = append(r.ids, id)
	}
	sort.Slice(r.ids, func(i, j int) bool { return r.ids[i] < r.ids[j] })
	return r, nil
}

func (r *Registry) Get(id contractx.UnitID) (contractx.DecisionUnit, bool) {
	if r == nil {
		return nil, false
	}
	u, ok := r.units[id]
	return u, ok
}

// IDs returns unit ids in ascending order.
func (r *Registry) IDs() []contractx.UnitID {
	if r == nil {
		return nil
	}
	out := make([]contractx.UnitID, len(r.ids))
	copy(out, r.ids)
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ids)
}
