// Package command interprets a parsed resp.Frame array as one of the four
// store operations this protocol supports, validating arity and argument
// shape before the connection layer touches the store.
package command

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/epokhe/kvresp/internal/resp"
)

// verbs is the whitelist of recognized command names, lower-case ASCII, as
// they appear in the wire protocol's leading Bulk element. Membership is a
// set predicate rather than a switch, in the same spirit the teacher used
// a set to compare "which segment files exist" against "which segment
// files the manifest expects" — here it's "which verb names we shipped"
// against the one a client sent.
var verbs = mapset.NewSet[string]("get", "set", "delete", "update")

// Kind identifies which of the four operations a Command names.
type Kind int

const (
	Get Kind = iota
	Set
	Delete
	Update
)

// Command is a semantically validated frame naming a store operation.
type Command struct {
	Kind  Kind
	Key   string
	Value string // only meaningful for Set and Update
}

// FromFrame interprets f as a command. f must be an Array whose first
// element is a Bulk naming one of the recognized verbs (case-sensitive,
// lower-case), followed by the arity-appropriate number of Bulk
// arguments: two elements total for get/delete, three for set/update. Any
// other shape returns an error.
func FromFrame(f resp.Frame) (Command, error) {
	if f.Kind != resp.Array || len(f.Items) == 0 {
		return Command{}, fmt.Errorf("command: expected a non-empty array frame")
	}

	verb, err := bulkString(f.Items[0])
	if err != nil {
		return Command{}, fmt.Errorf("command: first element must be a bulk string: %w", err)
	}

	if !verbs.Contains(verb) {
		return Command{}, fmt.Errorf("command: unknown verb %q, want one of %v", verb, verbs.ToSlice())
	}

	switch verb {
	case "get":
		key, err := arity2(f)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: Get, Key: key}, nil
	case "delete":
		key, err := arity2(f)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: Delete, Key: key}, nil
	case "set":
		key, val, err := arity3(f)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: Set, Key: key, Value: val}, nil
	case "update":
		key, val, err := arity3(f)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: Update, Key: key, Value: val}, nil
	default:
		// unreachable: verbs set and this switch are kept in lockstep above.
		return Command{}, fmt.Errorf("command: unhandled verb %q", verb)
	}
}

func arity2(f resp.Frame) (key string, err error) {
	if len(f.Items) != 2 {
		return "", fmt.Errorf("command: %q wants 2 elements, got %d", mustVerb(f), len(f.Items))
	}
	return bulkString(f.Items[1])
}

func arity3(f resp.Frame) (key, val string, err error) {
	if len(f.Items) != 3 {
		return "", "", fmt.Errorf("command: %q wants 3 elements, got %d", mustVerb(f), len(f.Items))
	}
	key, err = bulkString(f.Items[1])
	if err != nil {
		return "", "", err
	}
	val, err = bulkString(f.Items[2])
	if err != nil {
		return "", "", err
	}
	return key, val, nil
}

func mustVerb(f resp.Frame) string {
	v, _ := bulkString(f.Items[0])
	return v
}

func bulkString(f resp.Frame) (string, error) {
	if f.Kind != resp.Bulk {
		return "", fmt.Errorf("command: expected a bulk string argument")
	}
	return string(f.Bytes), nil
}
