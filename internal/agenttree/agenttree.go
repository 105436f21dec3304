// Package agenttree holds the in-memory AgentTree and its Router, spec
// §4.6/§3: a mapping agent_id -> AgentNode with a session_id index, plus
// pure one-hop route validation.
//
// The teacher has no equivalent data structure (go-opencode has no agent
// hierarchy), so this package is grounded on the spec's own invariants
// rather than adapted teacher code; it follows the teacher's general shape
// for stateful in-memory registries (a mutex-guarded map with small
// accessor methods), as seen in internal/provider/registry.go.
package agenttree

import (
	"sync"

	"github.com/substratai/substrat/internal/coreerr"
	"github.com/substratai/substrat/pkg/types"
)

// Tree is a mapping agent_id -> AgentNode with a session_id index.
type Tree struct {
	mu        sync.RWMutex
	nodes     map[types.ID]*types.AgentNode
	bySession map[types.ID]types.ID
}

func New() *Tree {
	return &Tree{
		nodes:     make(map[types.ID]*types.AgentNode),
		bySession: make(map[types.ID]types.ID),
	}
}

// Add inserts node into the tree and, if it has a parent, appends it to the
// parent's children list. Errors if the parent doesn't exist or a sibling
// with the same name already exists.
func (t *Tree) Add(node *types.AgentNode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node.ParentID != nil {
		parent, ok := t.nodes[*node.ParentID]
		if !ok {
			return coreerr.New(coreerr.NotFound, "parent agent does not exist")
		}
		for _, childID := range parent.Children {
			if sibling, ok := t.nodes[childID]; ok && sibling.Name == node.Name {
				return coreerr.New(coreerr.NameConflict, "name already used by a sibling")
			}
		}
		parent.Children = append(parent.Children, node.ID)
	}

	t.nodes[node.ID] = node
	t.bySession[node.SessionID] = node.ID
	return nil
}

// Remove deletes a leaf node from the tree. Removing a node with children
// is an error; callers must terminate leaves first.
func (t *Tree) Remove(id types.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return coreerr.New(coreerr.NotFound, "agent does not exist")
	}
	if len(node.Children) > 0 {
		return coreerr.New(coreerr.SessionState, "cannot remove agent with live children")
	}

	if node.ParentID != nil {
		if parent, ok := t.nodes[*node.ParentID]; ok {
			parent.Children = removeID(parent.Children, id)
		}
	}

	delete(t.nodes, id)
	delete(t.bySession, node.SessionID)
	return nil
}

// Get returns a copy of the node, or not-found.
func (t *Tree) Get(id types.ID) (*types.AgentNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[id]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "agent does not exist")
	}
	return node.Clone(), nil
}

// Children returns copies of id's direct children.
func (t *Tree) Children(id types.ID) ([]*types.AgentNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[id]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "agent does not exist")
	}
	return t.nodesFor(node.Children), nil
}

// Parent returns id's parent, or nil if id is a root.
func (t *Tree) Parent(id types.ID) (*types.AgentNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[id]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "agent does not exist")
	}
	if node.ParentID == nil {
		return nil, nil
	}
	parent, ok := t.nodes[*node.ParentID]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "parent agent does not exist")
	}
	return parent.Clone(), nil
}

// Team returns id's siblings, excluding id itself.
func (t *Tree) Team(id types.ID) ([]*types.AgentNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[id]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "agent does not exist")
	}
	if node.ParentID == nil {
		return nil, nil
	}
	parent, ok := t.nodes[*node.ParentID]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "parent agent does not exist")
	}
	return t.nodesFor(removeID(parent.Children, id)), nil
}

// All returns copies of every node currently in the tree, in no particular
// order.
func (t *Tree) All() []*types.AgentNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]*types.AgentNode, 0, len(t.nodes))
	for _, node := range t.nodes {
		result = append(result, node.Clone())
	}
	return result
}

// Roots returns copies of every node with no parent.
func (t *Tree) Roots() []*types.AgentNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var roots []*types.AgentNode
	for _, node := range t.nodes {
		if node.IsRoot() {
			roots = append(roots, node.Clone())
		}
	}
	return roots
}

// Subtree returns id and every descendant, in BFS order.
func (t *Tree) Subtree(id types.ID) ([]*types.AgentNode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	root, ok := t.nodes[id]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "agent does not exist")
	}

	var result []*types.AgentNode
	queue := []types.ID{root.ID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		node, ok := t.nodes[current]
		if !ok {
			continue
		}
		result = append(result, node.Clone())
		queue = append(queue, node.Children...)
	}
	return result, nil
}

// ByName resolves a child name within parentID's children. Returns the
// zero ID and ok=false if no such child exists.
func (t *Tree) ByName(parentID types.ID, name string) (types.ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	parent, ok := t.nodes[parentID]
	if !ok {
		return "", false
	}
	for _, childID := range parent.Children {
		if child, ok := t.nodes[childID]; ok && child.Name == name {
			return child.ID, true
		}
	}
	return "", false
}

// BySession resolves a session id to its owning agent id.
func (t *Tree) BySession(sessionID types.ID) (types.ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.bySession[sessionID]
	return id, ok
}

// Exists reports whether id is currently in the tree.
func (t *Tree) Exists(id types.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.nodes[id]
	return ok
}

func (t *Tree) nodesFor(ids []types.ID) []*types.AgentNode {
	result := make([]*types.AgentNode, 0, len(ids))
	for _, id := range ids {
		if node, ok := t.nodes[id]; ok {
			result = append(result, node.Clone())
		}
	}
	return result
}

func removeID(ids []types.ID, target types.ID) []types.ID {
	result := make([]types.ID, 0, len(ids))
	for _, id := range ids {
		if id != target {
			result = append(result, id)
		}
	}
	return result
}
