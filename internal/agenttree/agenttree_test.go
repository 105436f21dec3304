package agenttree

import (
	"testing"

	"github.com/substratai/substrat/internal/coreerr"
	"github.com/substratai/substrat/pkg/types"
)

func newNode(id, parent types.ID, name string) *types.AgentNode {
	var parentID *types.ID
	if parent != "" {
		p := parent
		parentID = &p
	}
	return &types.AgentNode{
		ID:        id,
		SessionID: types.NewID(),
		Name:      name,
		ParentID:  parentID,
		State:     types.AgentIdle,
		CreatedAt: types.Now(),
	}
}

func TestTree_AddRootAndChild(t *testing.T) {
	tree := New()
	root := newNode("root", "", "lead")
	if err := tree.Add(root); err != nil {
		t.Fatalf("Add root failed: %v", err)
	}

	child := newNode("child", "root", "worker-1")
	if err := tree.Add(child); err != nil {
		t.Fatalf("Add child failed: %v", err)
	}

	children, err := tree.Children("root")
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(children) != 1 || children[0].ID != "child" {
		t.Fatalf("expected [child], got %+v", children)
	}
}

func TestTree_AddChildOfMissingParent(t *testing.T) {
	tree := New()
	child := newNode("child", "ghost", "worker-1")
	err := tree.Add(child)
	if !coreerr.Is(err, coreerr.NotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestTree_AddNameConflict(t *testing.T) {
	tree := New()
	root := newNode("root", "", "lead")
	if err := tree.Add(root); err != nil {
		t.Fatalf("Add root failed: %v", err)
	}
	if err := tree.Add(newNode("c1", "root", "worker")); err != nil {
		t.Fatalf("Add c1 failed: %v", err)
	}
	err := tree.Add(newNode("c2", "root", "worker"))
	if !coreerr.Is(err, coreerr.NameConflict) {
		t.Fatalf("expected name-conflict, got %v", err)
	}
}

func TestTree_RemoveNonLeafFails(t *testing.T) {
	tree := New()
	root := newNode("root", "", "lead")
	if err := tree.Add(root); err != nil {
		t.Fatalf("Add root failed: %v", err)
	}
	if err := tree.Add(newNode("child", "root", "worker")); err != nil {
		t.Fatalf("Add child failed: %v", err)
	}

	err := tree.Remove("root")
	if !coreerr.Is(err, coreerr.SessionState) {
		t.Fatalf("expected session-state error removing non-leaf, got %v", err)
	}
}

func TestTree_RemoveLeafDetachesFromParent(t *testing.T) {
	tree := New()
	root := newNode("root", "", "lead")
	if err := tree.Add(root); err != nil {
		t.Fatalf("Add root failed: %v", err)
	}
	if err := tree.Add(newNode("child", "root", "worker")); err != nil {
		t.Fatalf("Add child failed: %v", err)
	}

	if err := tree.Remove("child"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	children, err := tree.Children("root")
	if err != nil {
		t.Fatalf("Children failed: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("expected no children after removal, got %+v", children)
	}
	if tree.Exists("child") {
		t.Fatal("expected removed child to no longer exist")
	}
}

func TestTree_Team(t *testing.T) {
	tree := New()
	if err := tree.Add(newNode("root", "", "lead")); err != nil {
		t.Fatalf("Add root failed: %v", err)
	}
	if err := tree.Add(newNode("a", "root", "worker-a")); err != nil {
		t.Fatalf("Add a failed: %v", err)
	}
	if err := tree.Add(newNode("b", "root", "worker-b")); err != nil {
		t.Fatalf("Add b failed: %v", err)
	}

	team, err := tree.Team("a")
	if err != nil {
		t.Fatalf("Team failed: %v", err)
	}
	if len(team) != 1 || team[0].ID != "b" {
		t.Fatalf("expected team [b], got %+v", team)
	}
}

func TestTree_Subtree(t *testing.T) {
	tree := New()
	if err := tree.Add(newNode("root", "", "lead")); err != nil {
		t.Fatalf("Add root failed: %v", err)
	}
	if err := tree.Add(newNode("a", "root", "worker-a")); err != nil {
		t.Fatalf("Add a failed: %v", err)
	}
	if err := tree.Add(newNode("a1", "a", "worker-a1")); err != nil {
		t.Fatalf("Add a1 failed: %v", err)
	}

	sub, err := tree.Subtree("root")
	if err != nil {
		t.Fatalf("Subtree failed: %v", err)
	}
	if len(sub) != 3 {
		t.Fatalf("expected 3 nodes in subtree, got %d", len(sub))
	}
}

func TestTree_ByNameAndBySession(t *testing.T) {
	tree := New()
	root := newNode("root", "", "lead")
	if err := tree.Add(root); err != nil {
		t.Fatalf("Add root failed: %v", err)
	}
	child := newNode("child", "root", "worker")
	if err := tree.Add(child); err != nil {
		t.Fatalf("Add child failed: %v", err)
	}

	id, ok := tree.ByName("root", "worker")
	if !ok || id != "child" {
		t.Fatalf("ByName failed: got (%v, %v)", id, ok)
	}

	agentID, ok := tree.BySession(child.SessionID)
	if !ok || agentID != "child" {
		t.Fatalf("BySession failed: got (%v, %v)", agentID, ok)
	}
}

func TestRouter_ValidateRoute(t *testing.T) {
	tree := New()
	if err := tree.Add(newNode("root", "", "lead")); err != nil {
		t.Fatalf("Add root failed: %v", err)
	}
	if err := tree.Add(newNode("a", "root", "worker-a")); err != nil {
		t.Fatalf("Add a failed: %v", err)
	}
	if err := tree.Add(newNode("b", "root", "worker-b")); err != nil {
		t.Fatalf("Add b failed: %v", err)
	}
	if err := tree.Add(newNode("a1", "a", "worker-a1")); err != nil {
		t.Fatalf("Add a1 failed: %v", err)
	}

	router := NewRouter(tree)

	cases := []struct {
		name      string
		sender    types.ID
		recipient types.ID
		wantOK    bool
	}{
		{"parent", "a", "root", true},
		{"child", "root", "a", true},
		{"team", "a", "b", true},
		{"grandparent-not-allowed", "a1", "root", false},
		{"self", "a", "a", false},
		{"system-to-agent", types.SYSTEM, "a", true},
		{"agent-to-user", "a", types.USER, true},
		{"unrelated", "a1", "b", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := router.ValidateRoute(tc.sender, tc.recipient)
			if ok != tc.wantOK {
				t.Errorf("ValidateRoute(%s, %s) = (%v, %q), want ok=%v", tc.sender, tc.recipient, ok, reason, tc.wantOK)
			}
		})
	}
}

func TestRouter_ValidateRouteUnknownAgent(t *testing.T) {
	tree := New()
	router := NewRouter(tree)

	ok, reason := router.ValidateRoute("ghost", types.USER)
	if ok {
		t.Fatal("expected route to fail for unknown sender")
	}
	if reason == "" {
		t.Fatal("expected a reason for the failed route")
	}
}

func TestRouter_ExpandMulticast(t *testing.T) {
	tree := New()
	if err := tree.Add(newNode("root", "", "lead")); err != nil {
		t.Fatalf("Add root failed: %v", err)
	}
	if err := tree.Add(newNode("a", "root", "worker-a")); err != nil {
		t.Fatalf("Add a failed: %v", err)
	}
	if err := tree.Add(newNode("b", "root", "worker-b")); err != nil {
		t.Fatalf("Add b failed: %v", err)
	}

	router := NewRouter(tree)
	team, err := router.ExpandMulticast("a")
	if err != nil {
		t.Fatalf("ExpandMulticast failed: %v", err)
	}
	if len(team) != 1 || team[0] != "b" {
		t.Fatalf("expected multicast team [b], got %+v", team)
	}
}
