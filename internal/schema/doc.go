// Package schema resolves type declarations into the metadata model the
// engine runs on: flattened types with inherited fields, compiled formulas
// and the dependency graph between fields.
//
// The graph has three kinds of edges (see RelationKind). Own edges live on
// the source field's Targets. Link edges also live on Targets, registered on
// the link target type and every type extending it. Child edges live on
// ContextTargets keyed by "<parentType>|<datasetField>", so a child row only
// triggers formulas of the dataset it actually belongs to.
package schema
