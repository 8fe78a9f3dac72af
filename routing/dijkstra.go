package routing

import (
	"container/heap"
)

// FindRoute runs Dijkstra's algorithm over g from source to dest, scoring
// purely by hop count (every admissible edge has weight one) and
// respecting the onion-message admissibility predicate. It returns the
// ordered list of channel ids from source to destination.
func FindRoute(g Graph, source, dest Vertex) ([]uint64, error) {
	if source == dest {
		return nil, nil
	}

	dist := map[Vertex]int{source: 0}
	prevEdge := map[Vertex]*Edge{}
	visited := map[Vertex]bool{}

	pq := &priorityQueue{{vertex: source, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*pqItem)
		if visited[cur.vertex] {
			continue
		}
		visited[cur.vertex] = true

		if cur.vertex == dest {
			return buildPath(prevEdge, source, dest), nil
		}

		for _, e := range g.Edges(cur.vertex) {
			if !admissible(g, e) {
				continue
			}

			next := cur.dist + 1
			if existing, ok := dist[e.To]; ok && existing <= next {
				continue
			}

			dist[e.To] = next
			prevEdge[e.To] = e

			heap.Push(pq, &pqItem{vertex: e.To, dist: next})
		}
	}

	return nil, ErrRouteNotFound
}

// buildPath walks prevEdge backward from dest to source, returning the
// ordered channel id list from source to destination.
func buildPath(prevEdge map[Vertex]*Edge, source, dest Vertex) []uint64 {
	var reversed []uint64

	for v := dest; v != source; {
		e := prevEdge[v]
		reversed = append(reversed, e.ChannelID)
		v = e.From
	}

	path := make([]uint64, len(reversed))
	for i, id := range reversed {
		path[len(reversed)-1-i] = id
	}

	return path
}

// pqItem is a single entry in the Dijkstra priority queue.
type pqItem struct {
	vertex Vertex
	dist   int
}

// priorityQueue is a container/heap.Interface min-heap over pqItem.dist.
// Dijkstra itself has no natural home among this module's dependencies
// (it is graph-search logic, not wire/storage/transport plumbing), so the
// priority queue is built on the standard library's container/heap rather
// than reaching for an ecosystem dependency that doesn't fit any other
// component either.
type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	return pq[i].dist < pq[j].dist
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
}

func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(*pqItem))
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]

	return item
}
