package expressions

import "strings"

// Chain is an ordered list of accessor attempts for one logical field.
// The first attempt yielding a non-empty value wins (JMESPath "||" semantics,
// so null, "", false, [] and {} fall through while 0 does not).
type Chain []string

// Expression joins the attempts into a single JMESPath or-expression
func (c Chain) Expression() string {
	return strings.Join(c, " || ")
}

// Validate compiles every attempt in the chain
func (c Chain) Validate(e *Evaluator) error {
	for _, attempt := range c {
		if err := e.Validate(attempt); err != nil {
			return err
		}
	}
	return e.Validate(c.Expression())
}

// String resolves the chain against data as a string. Missing values resolve to "".
func (e *Evaluator) String(c Chain, data any) string {
	v, err := e.EvaluateString(c.Expression(), data)
	if err != nil {
		return ""
	}
	return v
}

// Int resolves the chain against data as an integer
func (e *Evaluator) Int(c Chain, data any) (int64, bool) {
	v, ok, err := e.EvaluateInt(c.Expression(), data)
	if err != nil {
		return 0, false
	}
	return v, ok
}
