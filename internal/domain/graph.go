package domain

import "sort"

// GraphEdge is one influence relation joined with both endpoint users,
// as read from the influence table in a single consistent snapshot.
type GraphEdge struct {
	EdgeID int64
	Source UserCompact
	Target UserCompact
	Type   int
}

// GraphNode is a user appearing in at least one influence relation.
// Mentions is the in-degree: how many edges cite this user as their
// target.
type GraphNode struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	AvatarURL      string `json:"avatar_url"`
	Mentions       int    `json:"mentions"`
	InfluenceCount int    `json:"influence_count"`
}

// GraphLink is a directed edge from source to target. Visual weight is
// derived client-side from the endpoint mention scores.
type GraphLink struct {
	Source        int64 `json:"source"`
	Target        int64 `json:"target"`
	InfluenceType int   `json:"influence_type"`
}

// Graph is the visualization-ready view served to the front-ends.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphLink `json:"links"`
}

// BuildGraph folds the current influence-edge set into a graph. It is
// a pure function: the same edge set always yields the same nodes in
// the same order (mentions descending, id ascending on ties — the
// ordering consumers rely on for layout stability). Users without any
// incident edge never appear.
func BuildGraph(edges []GraphEdge) Graph {
	nodes := make(map[int64]*GraphNode)
	links := make([]GraphLink, 0, len(edges))

	node := func(u UserCompact) *GraphNode {
		if n, ok := nodes[u.ID]; ok {
			return n
		}
		n := &GraphNode{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}
		nodes[u.ID] = n
		return n
	}

	for _, edge := range edges {
		node(edge.Source).InfluenceCount++
		node(edge.Target).Mentions++
		links = append(links, GraphLink{
			Source:        edge.Source.ID,
			Target:        edge.Target.ID,
			InfluenceType: edge.Type,
		})
	}

	ordered := make([]GraphNode, 0, len(nodes))
	for _, n := range nodes {
		ordered = append(ordered, *n)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Mentions != ordered[j].Mentions {
			return ordered[i].Mentions > ordered[j].Mentions
		}
		return ordered[i].ID < ordered[j].ID
	})

	return Graph{Nodes: ordered, Links: links}
}
