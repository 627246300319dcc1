package trigger

import (
	"fmt"
	"strings"
)

// EvalAdvanced evaluates an advanced query against content.
//
// A query is a whitespace-separated list of terms, all of which must hold.
// Each term is "op:value" where op is one of contains, notcontains,
// startswith, endswith, exact or regex. A value may list alternatives
// separated by "|", any of which satisfies the term (regex values keep "|"
// as alternation). A leading "!" negates
// the term. Text comparisons ignore case; regex values are matched as written
// against the lowercased content.
//
//	contains:pedido|order !contains:cancel startswith:oi
func EvalAdvanced(content, query string) (bool, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return false, nil
	}
	text := strings.ToLower(content)
	for _, term := range terms {
		ok, err := evalTerm(text, term)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalTerm(text, term string) (bool, error) {
	negate := false
	if strings.HasPrefix(term, "!") {
		negate = true
		term = term[1:]
	}
	op, value, found := strings.Cut(term, ":")
	if !found {
		// Bare words behave like contains.
		op, value = "contains", term
	}
	op = strings.ToLower(op)

	// notcontains holds only if none of the alternatives occur.
	if op == "notcontains" {
		negate = !negate
		op = "contains"
	}

	alts := []string{value}
	if op != "regex" {
		alts = strings.Split(value, "|")
	}
	hit := false
	for _, alt := range alts {
		if alt == "" {
			continue
		}
		ok, err := evalPredicate(text, op, alt)
		if err != nil {
			return false, err
		}
		if ok {
			hit = true
			break
		}
	}
	return hit != negate, nil
}

func evalPredicate(text, op, value string) (bool, error) {
	switch op {
	case "contains":
		return strings.Contains(text, strings.ToLower(value)), nil
	case "startswith":
		return strings.HasPrefix(text, strings.ToLower(value)), nil
	case "endswith":
		return strings.HasSuffix(text, strings.ToLower(value)), nil
	case "exact":
		return text == strings.ToLower(value), nil
	case "regex":
		re, err := compile(value)
		if err != nil {
			return false, err
		}
		return re.MatchString(text), nil
	}
	return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidPattern, op)
}
