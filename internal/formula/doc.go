// Package formula compiles field formulas into a closed expression tree and
// evaluates them.
//
// The grammar is deliberately small:
//
//	expr    = expr ("+" | "-" | "*" | "/") expr | "-" expr
//	        | test "?" expr ":" expr
//	        | call | literal | ident | ident "." ident
//	test    = expr cmp expr | test ("&&" | "||") test | "!" test
//	call    = scalar "(" expr {"," expr} ")" | agg "(" ident "." ident ")"
//	scalar  = "date" | "str" | "number" | "int" | "round" | "date_add"
//	agg     = "sum" | "min" | "max" | "avg" | "count"
//
// Text is tokenized and parsed by the cel-go parser with every macro
// removed; the resulting AST is walked once, every node outside the grammar
// is reported with its line and column, and identifiers are resolved
// through a Checker supplied by the schema. Nothing is ever evaluated as
// text: Program.Eval interprets the tree against an Accessor.
package formula
