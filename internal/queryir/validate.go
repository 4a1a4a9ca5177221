package queryir

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/warden/internal/fault"
	"github.com/roach88/warden/internal/machine"
)

// ValidationResult contains the analysis of a filter.
//
// A filter with problems compiles to well-formed SQL in most cases, but
// the result is either empty by construction (unknown operation name,
// unknown cause name) or not what the caller meant. Problems therefore
// block execution.
type ValidationResult struct {
	// OK indicates the filter is structurally sound and every name in
	// it resolves.
	OK bool

	// Problems lists what is wrong. Empty when OK is true.
	Problems []string
}

// Validate checks a filter before compilation.
//
// Rules:
//  1. RunID is required and must be a uuid - run ids are generated,
//     never invented
//  2. Operation names must exist in the dispatch table
//  3. Cause names must be canonical fault cause names
//  4. Register numbers must fit the cause register encoding (0-255)
//  5. Sequence ranges must not be inverted
//  6. Limit must not be negative
//
// Validate is a pure function with no side effects.
func Validate(f Filter) ValidationResult {
	v := &validator{
		problems: []string{},
	}

	if f.RunID == "" {
		v.add("missing run id - filters select from exactly one run")
	} else if _, err := uuid.Parse(f.RunID); err != nil {
		v.add("run id %q is not a uuid", f.RunID)
	}

	if f.Limit < 0 {
		v.add("negative limit %d", f.Limit)
	}

	if f.Where != nil {
		v.validatePredicate(f.Where)
	}

	return ValidationResult{
		OK:       len(v.problems) == 0,
		Problems: v.problems,
	}
}

// Validate is the blocking form: it joins the problems found by the
// package-level Validate into a single error, or returns nil.
func (f Filter) Validate() error {
	res := Validate(f)
	if res.OK {
		return nil
	}
	return errors.New("invalid filter: " + strings.Join(res.Problems, "; "))
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

// add appends a problem message.
func (v *validator) add(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

// validatePredicate recursively validates a predicate node.
func (v *validator) validatePredicate(p Predicate) {
	if p == nil {
		v.add("nil predicate - omit the condition instead")
		return
	}

	switch pred := p.(type) {
	case OpIs:
		v.validateOpIs(pred)
	case *OpIs:
		v.validateOpIs(*pred)
	case Faulted, *Faulted:
		// Always valid
	case CauseIs:
		v.validateCauseIs(pred)
	case *CauseIs:
		v.validateCauseIs(*pred)
	case RegIs:
		v.validateRegIs(pred)
	case *RegIs:
		v.validateRegIs(*pred)
	case SeqRange:
		v.validateSeqRange(pred)
	case *SeqRange:
		v.validateSeqRange(*pred)
	case And:
		v.validateAnd(pred)
	case *And:
		v.validateAnd(*pred)
	default:
		v.add("unknown predicate type %T", p)
	}
}

func (v *validator) validateOpIs(pred OpIs) {
	if pred.Op == "" {
		v.add("empty operation name")
		return
	}
	for _, op := range machine.Ops() {
		if op == pred.Op {
			return
		}
	}
	v.add("unknown operation %q", pred.Op)
}

func (v *validator) validateCauseIs(pred CauseIs) {
	if _, ok := fault.ParseCause(pred.Cause); !ok {
		v.add("unknown cause name %q", pred.Cause)
	}
}

func (v *validator) validateRegIs(pred RegIs) {
	if pred.Reg < 0 || pred.Reg > 255 {
		v.add("register %d outside cause register encoding", pred.Reg)
	}
}

func (v *validator) validateSeqRange(pred SeqRange) {
	if pred.From > pred.To {
		v.add("inverted sequence range [%d, %d]", pred.From, pred.To)
	}
}

func (v *validator) validateAnd(pred And) {
	for _, sub := range pred.Predicates {
		v.validatePredicate(sub)
	}
}
