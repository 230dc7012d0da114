package session

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/spatialkit/anchorsession/spatial"
)

// locateFilter evaluates a boolean expression against each located anchor
// before it is cached. Available variables: id, placeholder,
// expires_in_seconds.
type locateFilter struct {
	source  string
	program *vm.Program
}

func newLocateFilter(source string) (*locateFilter, error) {
	program, err := expr.Compile(source, expr.Env(filterEnv(spatial.AnchorRecord{}, time.Time{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile locate filter: %w", err)
	}
	return &locateFilter{source: source, program: program}, nil
}

func filterEnv(rec spatial.AnchorRecord, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":                 rec.ID,
		"placeholder":        rec.Placeholder,
		"expires_in_seconds": rec.ExpiresIn(now).Seconds(),
	}
}

func (f *locateFilter) accept(rec spatial.AnchorRecord, now time.Time) (bool, error) {
	out, err := expr.Run(f.program, filterEnv(rec, now))
	if err != nil {
		return false, fmt.Errorf("evaluate locate filter: %w", err)
	}
	accepted, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("locate filter returned %T, expected bool", out)
	}
	return accepted, nil
}
