package schema

import "fmt"

// RelationKind says how a formula reaches the field it depends on.
type RelationKind int

const (
	// RelOwn: the formula reads a field of its own row.
	RelOwn RelationKind = iota + 1
	// RelLink: the formula reads a field of the row its link field points to.
	RelLink
	// RelChild: the formula aggregates a field over a child dataset.
	RelChild
)

func (k RelationKind) String() string {
	switch k {
	case RelOwn:
		return "own"
	case RelLink:
		return "link"
	case RelChild:
		return "child"
	default:
		return fmt.Sprintf("RelationKind(%d)", int(k))
	}
}

// FVar is one edge of the dependency graph: a change of Source requires
// Target to be recomputed.
//
// Via is the link field (RelLink) or dataset field (RelChild) the edge runs
// through, both declared on Target's type. It is nil for RelOwn.
type FVar struct {
	Kind   RelationKind
	Target *Field
	Source *Field
	Via    *Field
}

// ReferrerKey is the key under which a linked row lists the rows that
// reach it through Via. Only meaningful for RelLink edges.
func (v *FVar) ReferrerKey() string {
	return ReferrerKey(v.Target.Owner.Name, v.Via.Name)
}

// ContextKey identifies the (parent type, dataset field) a child row lives
// under. Only meaningful for RelChild edges.
func (v *FVar) ContextKey() string {
	return ContextKey(v.Target.Owner.Name, v.Via.Name)
}

func (v *FVar) String() string {
	switch v.Kind {
	case RelOwn:
		return fmt.Sprintf("%s.%s <- own %s", v.Target.Owner.Name, v.Target.Name, v.Source.Name)
	default:
		return fmt.Sprintf("%s.%s <- %s %s.%s via %s", v.Target.Owner.Name, v.Target.Name,
			v.Kind, v.Source.Owner.Name, v.Source.Name, v.Via.Name)
	}
}

// ReferrerKey builds "<referringType>|<linkField>".
func ReferrerKey(referringType, linkField string) string {
	return referringType + "|" + linkField
}

// ContextKey builds "<parentType>|<datasetField>".
func ContextKey(parentType, datasetField string) string {
	return parentType + "|" + datasetField
}
