// Package trigger decides whether a bot's activation rule matches message content.
package trigger

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/botrelay/internal/store"
)

// ErrInvalidPattern is returned when a regex trigger cannot be compiled.
// Callers treat it as a non-match.
var ErrInvalidPattern = errors.New("invalid trigger pattern")

// MaxPatternLen bounds bot-authored regular expressions.
const MaxPatternLen = 1024

// Match evaluates rule against content. Keyword operators are case-sensitive.
func Match(content string, rule store.TriggerRule) (bool, error) {
	switch rule.Type {
	case store.TriggerAll:
		return true, nil
	case store.TriggerNone:
		return false, nil
	case store.TriggerKeyword:
		return matchKeyword(content, rule.Operator, rule.Value)
	case store.TriggerAdvanced:
		return EvalAdvanced(content, rule.Value)
	}
	return false, nil
}

func matchKeyword(content string, op store.TriggerOperator, value string) (bool, error) {
	switch op {
	case store.OpEquals:
		return content == value, nil
	case store.OpContains:
		return strings.Contains(content, value), nil
	case store.OpStartsWith:
		return strings.HasPrefix(content, value), nil
	case store.OpEndsWith:
		return strings.HasSuffix(content, value), nil
	case store.OpRegex:
		re, err := compile(value)
		if err != nil {
			return false, err
		}
		return re.MatchString(content), nil
	}
	return false, nil
}

const cacheSize = 512

var cache = struct {
	sync.Mutex
	m map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

// compile returns a cached compiled pattern. RE2 matching is linear in the
// input, so a length cap is the only bound untrusted patterns need.
func compile(pattern string) (*regexp.Regexp, error) {
	if len(pattern) > MaxPatternLen {
		return nil, fmt.Errorf("%w: pattern exceeds %d bytes", ErrInvalidPattern, MaxPatternLen)
	}

	cache.Lock()
	defer cache.Unlock()
	if re, ok := cache.m[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	if len(cache.m) >= cacheSize {
		clear(cache.m)
	}
	cache.m[pattern] = re
	return re, nil
}
