// Package querysql compiles trace filters to parameterized SQLite.
//
// This is the only place that turns queryir predicates into SQL text.
// Every compiled query orders by sequence number, and every value rides
// in a parameter; filter contents are never interpolated into the
// statement.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/warden/internal/fault"
	"github.com/roach88/warden/internal/queryir"
)

// eventColumns matches the scan order used by the store's event reader.
const eventColumns = "seq, op, pc, target, old, new, class, cause, reg, vaddr"

// Compile converts a filter to one parameterized SELECT over the events
// table. Returns (sql, params, error).
//
// The query always includes ORDER BY seq ASC: (run_id, seq) is the
// primary key, so the ordering is total and two reads of the same
// filter return identical rows.
func Compile(f queryir.Filter) (string, []any, error) {
	if f.RunID == "" {
		return "", nil, fmt.Errorf("cannot compile filter without run id")
	}

	whereClause := "run_id = ?"
	params := []any{f.RunID}

	if f.Where != nil {
		predSQL, predParams, err := compilePredicate(f.Where)
		if err != nil {
			return "", nil, fmt.Errorf("compile predicate: %w", err)
		}
		whereClause += " AND " + predSQL
		params = append(params, predParams...)
	}

	sql := fmt.Sprintf("SELECT %s FROM events WHERE %s ORDER BY seq ASC",
		eventColumns,
		whereClause)

	if f.Limit > 0 {
		sql += " LIMIT ?"
		params = append(params, f.Limit)
	}

	return sql, params, nil
}

// compilePredicate compiles one predicate node to a WHERE fragment.
// Returns (sql, params, error). Values are always parameterized.
func compilePredicate(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil // Always true
	}

	switch pred := p.(type) {
	case queryir.OpIs:
		return compileOpIs(pred)
	case *queryir.OpIs:
		return compileOpIs(*pred)
	case queryir.Faulted, *queryir.Faulted:
		return "class != ''", nil, nil
	case queryir.CauseIs:
		return compileCauseIs(pred)
	case *queryir.CauseIs:
		return compileCauseIs(*pred)
	case queryir.RegIs:
		return compileRegIs(pred)
	case *queryir.RegIs:
		return compileRegIs(*pred)
	case queryir.SeqRange:
		return compileSeqRange(pred)
	case *queryir.SeqRange:
		return compileSeqRange(*pred)
	case queryir.And:
		return compileAnd(pred)
	case *queryir.And:
		return compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileOpIs(pred queryir.OpIs) (string, []any, error) {
	return "op = ?", []any{pred.Op}, nil
}

// compileCauseIs resolves the canonical cause name to its code. The
// class guard keeps non-faulting rows out: their cause column defaults
// to zero, which collides with the code of "None".
func compileCauseIs(pred queryir.CauseIs) (string, []any, error) {
	c, ok := fault.ParseCause(pred.Cause)
	if !ok {
		return "", nil, fmt.Errorf("unknown cause name %q", pred.Cause)
	}
	return "(class != '' AND cause = ?)", []any{int64(c)}, nil
}

// compileRegIs carries the same class guard: non-faulting rows store
// the no-register value 255 in reg.
func compileRegIs(pred queryir.RegIs) (string, []any, error) {
	return "(class != '' AND reg = ?)", []any{int64(pred.Reg)}, nil
}

func compileSeqRange(pred queryir.SeqRange) (string, []any, error) {
	return "seq BETWEEN ? AND ?", []any{pred.From, pred.To}, nil
}

// compileAnd compiles a conjunction. An empty conjunction is vacuously
// true.
func compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	var sqlParts []string
	var allParams []any

	for _, pred := range and.Predicates {
		sql, params, err := compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}

	return strings.Join(sqlParts, " AND "), allParams, nil
}
