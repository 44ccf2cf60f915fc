package pointer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPointer is returned for malformed pointers and for pointers that do not
// resolve against the given document.
var ErrInvalidPointer = errors.New("invalid json pointer")

// ErrRootAssignment is returned by [Set] when the pointer addresses the document root.
var ErrRootAssignment = errors.New("cannot set the root document")

const appendMarker = "-"

// MaxArrayGrowth bounds how many nil slots [Set] pads an array with to reach an index
// past its end.
const MaxArrayGrowth = 1024

// Parse splits ptr into unescaped reference tokens. "" and "/" address the whole
// document and yield no tokens.
func Parse(ptr string) ([]string, error) {
	if ptr == "" || ptr == "/" {
		return nil, nil
	}
	if ptr[0] != '/' {
		return nil, fmt.Errorf("%w: %q must start with '/'", ErrInvalidPointer, ptr)
	}

	parts := strings.Split(ptr[1:], "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return parts, nil
}

// Escape encodes a single reference token so it can be joined into a pointer.
func Escape(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}

// Get returns the value at ptr inside doc.
func Get(doc any, ptr string) (any, error) {
	tokens, err := Parse(ptr)
	if err != nil {
		return nil, err
	}

	node := doc
	for _, tok := range tokens {
		switch n := node.(type) {
		case map[string]any:
			next, ok := n[tok]
			if !ok {
				return nil, fmt.Errorf("%w: reference token %q not found", ErrInvalidPointer, tok)
			}
			node = next
		case []any:
			idx, ok := arrayIndex(tok)
			if !ok || idx >= len(n) {
				return nil, fmt.Errorf("%w: reference token %q not found", ErrInvalidPointer, tok)
			}
			node = n[idx]
		default:
			return nil, fmt.Errorf("%w: reference token %q not found", ErrInvalidPointer, tok)
		}
	}
	return node, nil
}

// GetString is Get followed by a string assertion. ok is false when the pointer does
// not resolve or the value is not a string.
func GetString(doc any, ptr string) (string, bool) {
	v, err := Get(doc, ptr)
	if err != nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set writes value at ptr inside doc, creating missing intermediate containers.
// An intermediate is created as an array when the following token is numeric or
// the append marker "-", and as an object otherwise.
func Set(doc map[string]any, ptr string, value any) error {
	tokens, err := Parse(ptr)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return ErrRootAssignment
	}
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidPointer)
	}

	_, err = setIn(doc, tokens, value)
	return err
}

// FromPointer builds a fresh document holding value at ptr and nothing else.
//
//	FromPointer("/refresh", "tok") // map[refresh:tok]
func FromPointer(ptr string, value any) (map[string]any, error) {
	doc := map[string]any{}
	if err := Set(doc, ptr, value); err != nil {
		return nil, err
	}
	return doc, nil
}

// setIn returns the (possibly reallocated) container so that appends to a slice
// propagate to the parent that holds it.
func setIn(node any, tokens []string, value any) (any, error) {
	tok := tokens[0]
	rest := tokens[1:]

	if len(rest) > 0 && isGuarded(tok) {
		return setIn(node, rest, value)
	}

	switch n := node.(type) {
	case map[string]any:
		if len(rest) == 0 {
			if !isGuarded(tok) {
				n[tok] = value
			}
			return n, nil
		}
		child, ok := n[tok]
		if !ok || child == nil {
			child = newContainer(rest[0])
		}
		updated, err := setIn(child, rest, value)
		if err != nil {
			return nil, err
		}
		n[tok] = updated
		return n, nil

	case []any:
		idx, err := sliceIndex(n, tok)
		if err != nil {
			return nil, err
		}
		if idx-len(n) > MaxArrayGrowth {
			return nil, fmt.Errorf("%w: index %d is more than %d past the end of a %d element array",
				ErrInvalidPointer, idx, MaxArrayGrowth, len(n))
		}
		for len(n) <= idx {
			n = append(n, nil)
		}
		if len(rest) == 0 {
			n[idx] = value
			return n, nil
		}
		child := n[idx]
		if child == nil {
			child = newContainer(rest[0])
		}
		updated, err := setIn(child, rest, value)
		if err != nil {
			return nil, err
		}
		n[idx] = updated
		return n, nil

	default:
		return nil, fmt.Errorf("%w: cannot traverse %T at %q", ErrInvalidPointer, node, tok)
	}
}

func newContainer(next string) any {
	if next == appendMarker || isDigits(next) {
		return []any{}
	}
	return map[string]any{}
}

func sliceIndex(arr []any, tok string) (int, error) {
	if tok == appendMarker {
		return len(arr), nil
	}
	idx, ok := arrayIndex(tok)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not an array index", ErrInvalidPointer, tok)
	}
	return idx, nil
}

func arrayIndex(tok string) (int, bool) {
	if !isDigits(tok) {
		return 0, false
	}
	idx, err := strconv.Atoi(tok)
	if err != nil {
		return 0, false
	}
	return idx, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// isGuarded reports prototype-polluting segment names; Set never writes through them.
func isGuarded(tok string) bool {
	switch tok {
	case "__proto__", "constructor", "prototype":
		return true
	}
	return false
}
