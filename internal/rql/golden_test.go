package rql

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// TestCompile_Golden pins the generated SQL for a representative predicate
// set. To regenerate after an intentional emitter change, run:
//
//	go test ./internal/rql -update
func TestCompile_Golden(t *testing.T) {
	cases := []struct {
		pred string
		args []Arg
	}{
		{pred: "make == $0", args: []Arg{{Kind: KindString, Value: "Tesla"}}},
		{pred: "year >= 2018 AND make == 'Opel'"},
		{pred: "make BEGINSWITH $0", args: []Arg{{Kind: KindString, Value: "T"}}},
		{pred: "make CONTAINS 'es' OR model ENDSWITH 'X'"},
		{pred: "owner == nil"},
		{pred: "NOT (sold == true OR price < 9999.5)"},
	}

	var b bytes.Buffer
	for _, c := range cases {
		sql, params, err := Compile(c.pred, carSchema{}, c.args)
		require.NoError(t, err, "predicate %q", c.pred)
		fmt.Fprintf(&b, "%s\n  sql: %s\n  params: %v\n\n", c.pred, sql, params)
	}

	g := goldie.New(t)
	g.Assert(t, "compile", b.Bytes())
}
