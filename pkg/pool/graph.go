package pool

import (
	"container/heap"
	"math/big"

	"github.com/ref-trader/reftrader/internal/boterr"
	"github.com/ref-trader/reftrader/pkg/tokenaccount"
)

// probeAmount is the fixed input size (10^18 smallest units) used to compute a
// representative edge weight for path search, per spec.md §4.4.
var probeAmount = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Edge caches the estimated return for probeAmount on one pool's direction, and
// the resulting scalar weight input/return used by shortest-path search.
type Edge struct {
	PoolID        int64
	TokenIn       tokenaccount.Account
	TokenOut      tokenaccount.Account
	ReturnAtProbe *big.Int
	Weight        float64 // probe / return_at_probe
	pair          *Pair
}

// newEdge builds an Edge for pr, or nil if the pool returns nothing for the probe.
func newEdge(pr *Pair) *Edge {
	ret := pr.EstimateReturn(probeAmount)
	if ret.Sign() <= 0 {
		return nil
	}
	probeF := new(big.Float).SetInt(probeAmount)
	retF := new(big.Float).SetInt(ret)
	weight := new(big.Float).Quo(probeF, retF)
	w, _ := weight.Float64()
	return &Edge{
		PoolID:        pr.Pool.ID,
		TokenIn:       pr.Pool.Tokens[pr.InIndex],
		TokenOut:      pr.Pool.Tokens[pr.OutIndex],
		ReturnAtProbe: ret,
		Weight:        w,
		pair:          pr,
	}
}

// PathEdges aggregates every pool's Edge for the same (token_in, token_out)
// direction; Best returns the one with the highest return (lowest weight).
type PathEdges struct {
	edges []*Edge
}

// Best returns the Edge with the highest return_at_probe, breaking ties by the
// lower pool id, matching spec.md §4.4's tie-break rule for path search.
func (pe *PathEdges) Best() *Edge {
	if len(pe.edges) == 0 {
		return nil
	}
	best := pe.edges[0]
	for _, e := range pe.edges[1:] {
		if e.Weight < best.Weight || (e.Weight == best.Weight && e.PoolID < best.PoolID) {
			best = e
		}
	}
	return best
}

// Graph is an undirected graph over token accounts, edges weighted by the best
// cross-pool exchange rate. Built once per tick from a PoolInfoList; memoizes
// shortest-path results keyed by (start, goal).
type Graph struct {
	pools      *InfoList
	byTokenDir map[tokenaccount.Account]map[tokenaccount.Account]*PathEdges
	neighbors  map[tokenaccount.Account]map[tokenaccount.Account]struct{}
	pathCache  map[pathKey]*Path
}

type pathKey struct {
	start, goal tokenaccount.Account
}

// Build constructs a Graph from every pool in pools, skipping pools that fail
// validation (InvalidPoolSize — fatal for that pool only, per spec.md §7).
func Build(pools *InfoList) *Graph {
	g := &Graph{
		pools:      pools,
		byTokenDir: make(map[tokenaccount.Account]map[tokenaccount.Account]*PathEdges),
		neighbors:  make(map[tokenaccount.Account]map[tokenaccount.Account]struct{}),
		pathCache:  make(map[pathKey]*Path),
	}
	for _, p := range pools.All() {
		if err := p.Validate(); err != nil {
			continue
		}
		for i := range p.Tokens {
			for j := range p.Tokens {
				if i == j {
					continue
				}
				pr := NewPair(p, p.Tokens[i], p.Tokens[j])
				if pr == nil {
					continue
				}
				e := newEdge(pr)
				if e == nil {
					continue
				}
				g.addEdge(e)
			}
		}
	}
	return g
}

func (g *Graph) addEdge(e *Edge) {
	byOut, ok := g.byTokenDir[e.TokenIn]
	if !ok {
		byOut = make(map[tokenaccount.Account]*PathEdges)
		g.byTokenDir[e.TokenIn] = byOut
	}
	pe, ok := byOut[e.TokenOut]
	if !ok {
		pe = &PathEdges{}
		byOut[e.TokenOut] = pe
	}
	pe.edges = append(pe.edges, e)

	if g.neighbors[e.TokenIn] == nil {
		g.neighbors[e.TokenIn] = make(map[tokenaccount.Account]struct{})
	}
	g.neighbors[e.TokenIn][e.TokenOut] = struct{}{}
}

// BestEdge returns the best cross-pool Edge from tokenIn to tokenOut, or nil.
func (g *Graph) BestEdge(tokenIn, tokenOut tokenaccount.Account) *Edge {
	byOut, ok := g.byTokenDir[tokenIn]
	if !ok {
		return nil
	}
	pe, ok := byOut[tokenOut]
	if !ok {
		return nil
	}
	return pe.Best()
}

// Tokens returns every token account that appears as an edge source.
func (g *Graph) Tokens() []tokenaccount.Account {
	out := make([]tokenaccount.Account, 0, len(g.neighbors))
	for t := range g.neighbors {
		out = append(out, t)
	}
	return out
}

// dijkstraItem is one entry in the priority queue.
type dijkstraItem struct {
	token tokenaccount.Account
	dist  float64
	index int
}

type priorityQueue []*dijkstraItem

func (pq priorityQueue) Len() int           { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)      { pq[i], pq[j] = pq[j], pq[i]; pq[i].index = i; pq[j].index = j }
func (pq *priorityQueue) Push(x interface{}) {
	item := x.(*dijkstraItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

// ShortestPath returns the best-weight route from start to goal, memoized per
// (start, goal) for this Graph instance. Dijkstra over token-account nodes;
// ties broken by lower pool id, then shallower depth (enforced by Best()'s
// pool-id tie-break plus visiting nodes in non-decreasing distance order).
func (g *Graph) ShortestPath(start, goal tokenaccount.Account) (*Path, error) {
	key := pathKey{start, goal}
	if cached, ok := g.pathCache[key]; ok {
		if cached == nil {
			return nil, &boterr.NoValidEdge{Start: start.String(), Goal: goal.String()}
		}
		return cached, nil
	}

	dist := map[tokenaccount.Account]float64{start: 0}
	prevEdge := map[tokenaccount.Account]*Edge{}
	visited := map[tokenaccount.Account]bool{}

	pq := &priorityQueue{{token: start, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*dijkstraItem)
		if visited[cur.token] {
			continue
		}
		visited[cur.token] = true
		if cur.token == goal {
			break
		}
		for next := range g.neighbors[cur.token] {
			if visited[next] {
				continue
			}
			e := g.BestEdge(cur.token, next)
			if e == nil {
				continue
			}
			nd := cur.dist + e.Weight
			if existing, ok := dist[next]; !ok || nd < existing {
				dist[next] = nd
				prevEdge[next] = e
				heap.Push(pq, &dijkstraItem{token: next, dist: nd})
			}
		}
	}

	if _, ok := dist[goal]; !ok || prevEdge[goal] == nil {
		if start == goal {
			g.pathCache[key] = nil
			return nil, &boterr.NoValidEdge{Start: start.String(), Goal: goal.String()}
		}
		g.pathCache[key] = nil
		return nil, &boterr.NoValidEdge{Start: start.String(), Goal: goal.String()}
	}

	// Walk back from goal to start, collecting edges, then reverse.
	var edges []*Edge
	cur := goal
	for cur != start {
		e := prevEdge[cur]
		if e == nil {
			g.pathCache[key] = nil
			return nil, &boterr.NoValidEdge{Start: start.String(), Goal: goal.String()}
		}
		edges = append(edges, e)
		cur = e.TokenIn
	}
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}

	hops := make([]*Pair, len(edges))
	for i, e := range edges {
		hops[i] = e.pair
	}
	path := &Path{Hops: hops}
	g.pathCache[key] = path
	return path, nil
}

// ListReturns looks up the cached shortest path from start to each goal
// (spec.md §4.4's list_returns). It does not compose the return: amount is not
// read, and callers call Path.ComposeReturn themselves. Goals with no valid
// path are omitted rather than erroring the whole call.
func (g *Graph) ListReturns(amount *big.Int, start tokenaccount.Account, goals []tokenaccount.Account) map[tokenaccount.Account]*Path {
	out := make(map[tokenaccount.Account]*Path, len(goals))
	for _, goal := range goals {
		if goal == start {
			continue
		}
		p, err := g.ShortestPath(start, goal)
		if err != nil {
			continue
		}
		out[goal] = p
	}
	return out
}
