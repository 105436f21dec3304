package agenttree

import "github.com/substratai/substrat/pkg/types"

// Router validates one-hop message routes against a Tree. Routing is pure:
// no I/O, no mutation.
type Router struct {
	tree *Tree
}

func NewRouter(tree *Tree) *Router {
	return &Router{tree: tree}
}

// ValidateRoute reports whether a message from sender to recipient is
// allowed: recipient must be sender's parent, a child, or a teammate.
// Sentinel SYSTEM/USER on either side bypass the one-hop check, but the
// non-sentinel side must exist. Self-delivery is always rejected.
func (r *Router) ValidateRoute(sender, recipient types.ID) (bool, string) {
	if sender == recipient {
		return false, "self-delivery is not allowed"
	}

	senderIsSentinel := types.IsSentinel(sender)
	recipientIsSentinel := types.IsSentinel(recipient)

	if senderIsSentinel && recipientIsSentinel {
		return true, ""
	}
	if senderIsSentinel {
		if !r.tree.Exists(recipient) {
			return false, "recipient does not exist"
		}
		return true, ""
	}
	if recipientIsSentinel {
		if !r.tree.Exists(sender) {
			return false, "sender does not exist"
		}
		return true, ""
	}

	if !r.tree.Exists(sender) {
		return false, "sender does not exist"
	}
	if !r.tree.Exists(recipient) {
		return false, "recipient does not exist"
	}

	parent, err := r.tree.Parent(sender)
	if err == nil && parent != nil && parent.ID == recipient {
		return true, ""
	}

	children, err := r.tree.Children(sender)
	if err == nil {
		for _, child := range children {
			if child.ID == recipient {
				return true, ""
			}
		}
	}

	team, err := r.tree.Team(sender)
	if err == nil {
		for _, mate := range team {
			if mate.ID == recipient {
				return true, ""
			}
		}
	}

	return false, "recipient is not parent, child, or teammate of sender"
}

// ExpandMulticast resolves a nil recipient to sender's team, for
// multicast delivery (spec §4.6). Each resulting pair must still be
// validated and logged independently by the caller.
func (r *Router) ExpandMulticast(sender types.ID) ([]types.ID, error) {
	team, err := r.tree.Team(sender)
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, 0, len(team))
	for _, mate := range team {
		ids = append(ids, mate.ID)
	}
	return ids, nil
}
