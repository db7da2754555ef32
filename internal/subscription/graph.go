package subscription

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/snapshot"
)

// Graph holds every observer's subscriptions and the refreshed-after edges
// between observers. The edge set is kept acyclic: a registration that
// would close a cycle is rejected before anything is changed.
type Graph struct {
	subs map[model.ObserverID][]Subscription
	// dependents maps an upstream observer to observers refreshing after it.
	dependents map[model.ObserverID]map[model.ObserverID]struct{}
	mu         sync.RWMutex
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		subs:       make(map[model.ObserverID][]Subscription),
		dependents: make(map[model.ObserverID]map[model.ObserverID]struct{}),
	}
}

// Register adds subscriptions for id. Registering an already known id adds
// to its existing subscriptions.
func (g *Graph) Register(id model.ObserverID, subs ...Subscription) error {
	op := "register " + id.String()

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, s := range subs {
		if err := s.Validate(); err != nil {
			return common.NewConfigurationError(op, err)
		}
		if s.Aspect != AspectRefreshed {
			continue
		}
		if s.Upstream == id {
			return common.NewConfigurationError(op, fmt.Errorf("%w: %s depends on itself", common.ErrCyclicDependency, id))
		}
		if _, ok := g.subs[s.Upstream]; !ok {
			return common.NewConfigurationError(op, fmt.Errorf("%w: upstream %s", common.ErrUnknownObserver, s.Upstream))
		}
		// Adding upstream -> id closes a cycle iff upstream is already
		// reachable from id.
		if g.reachableLocked(id, s.Upstream) {
			return common.NewConfigurationError(op, fmt.Errorf("%w: %s already refreshes after %s", common.ErrCyclicDependency, s.Upstream, id))
		}
	}

	g.subs[id] = append(g.subs[id], subs...)
	for _, s := range subs {
		if s.Aspect != AspectRefreshed {
			continue
		}
		if g.dependents[s.Upstream] == nil {
			g.dependents[s.Upstream] = make(map[model.ObserverID]struct{})
		}
		g.dependents[s.Upstream][id] = struct{}{}
	}
	return nil
}

// Unregister removes id and every edge touching it.
func (g *Graph) Unregister(id model.ObserverID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.subs, id)
	delete(g.dependents, id)
	for up, downs := range g.dependents {
		delete(downs, id)
		if len(downs) == 0 {
			delete(g.dependents, up)
		}
	}
}

// Registered reports whether id is known.
func (g *Graph) Registered(id model.ObserverID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.subs[id]
	return ok
}

// Len returns the number of registered observers.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.subs)
}

// Subscriptions returns a copy of id's subscriptions.
func (g *Graph) Subscriptions(id model.ObserverID) []Subscription {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Subscription(nil), g.subs[id]...)
}

// Dependents returns the observers that refresh after id, in id order.
func (g *Graph) Dependents(id model.ObserverID) []model.ObserverID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.ObserverID, 0, len(g.dependents[id]))
	for d := range g.dependents[id] {
		out = append(out, d)
	}
	sortIDs(out)
	return out
}

// ResolveStale returns the observers made stale by a dataset change.
func (g *Graph) ResolveStale(kind snapshot.ChangeKind) []model.ObserverID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return ResolveStale(kind, g.subs)
}

// ResolveStatus returns the observers made stale by a status delta.
func (g *Graph) ResolveStatus(cells []model.CellCoordinate) []model.ObserverID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return ResolveStatusStale(cells, g.subs)
}

// reachableLocked reports whether to is reachable from from by following
// dependents edges.
func (g *Graph) reachableLocked(from, to model.ObserverID) bool {
	if from == to {
		return true
	}
	visited := map[model.ObserverID]struct{}{from: {}}
	stack := []model.ObserverID{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for d := range g.dependents[n] {
			if d == to {
				return true
			}
			if _, seen := visited[d]; seen {
				continue
			}
			visited[d] = struct{}{}
			stack = append(stack, d)
		}
	}
	return false
}

func sortIDs(ids []model.ObserverID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
