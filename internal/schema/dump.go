package schema

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a readable listing of every type, its fields, compiled
// formulas and dependency edges.
func (s *Schema) Dump(w io.Writer) error {
	var b strings.Builder
	for _, t := range s.order {
		b.WriteString("type ")
		b.WriteString(t.Name)
		if t.Parent != nil {
			fmt.Fprintf(&b, " extends %s", t.Parent.Name)
		}
		if len(t.Indexes) > 0 {
			fmt.Fprintf(&b, " indexes [%s] default %s", strings.Join(t.Indexes, " "), t.DefaultIndex)
		}
		b.WriteByte('\n')

		for _, f := range t.fields {
			if f.System && f.CheckFor == "" {
				continue
			}
			fmt.Fprintf(&b, "  %s %s", f.Name, f.Type)
			if f.Target != nil {
				fmt.Fprintf(&b, " -> %s", f.Target.Name)
			}
			if f.Indexed {
				b.WriteString(" [index]")
			}
			if f == t.ParentField {
				b.WriteString(" [parent]")
			}
			b.WriteByte('\n')

			if f.IsFormula() {
				fmt.Fprintf(&b, "    formula:  %s\n", f.Formula)
				fmt.Fprintf(&b, "    compiled: %s\n", f.Program)
				for _, src := range f.Sources {
					fmt.Fprintf(&b, "    reads:    %s\n", src)
				}
			}
			for _, fv := range f.Targets {
				fmt.Fprintf(&b, "    triggers: %s\n", fv)
			}
			for _, key := range sortedContextKeys(f) {
				for _, fv := range f.ContextTargets[key] {
					fmt.Fprintf(&b, "    triggers: %s [%s]\n", fv, key)
				}
			}
		}
	}
	for _, warn := range s.warnings {
		fmt.Fprintf(&b, "warning: %s\n", warn.Message)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
