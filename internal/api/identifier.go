package api

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// identifierKind discriminates the task lookup paths.
type identifierKind int

const (
	identID identifierKind = iota
	identUUID
	identCName
)

// identifier is a parsed task reference from the URL path: a bare
// decimal id, or one of the prefixed forms id:{N}, uuid:{rfc4122},
// cname:{name}.
type identifier struct {
	kind  identifierKind
	id    int64
	uuid  string
	cname string
}

var uuidRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// parseIdentifier resolves the {ident} path segment. A reference that
// cannot name any live task (overflowing id, malformed uuid, cname
// outside [3, 96]) is reported as not-found rather than invalid, so
// lookups never leak the identifier grammar as a validation error.
func parseIdentifier(s string) (identifier, error) {
	if id, err := strconv.ParseInt(s, 10, 64); err == nil && !strings.HasPrefix(s, "-") {
		return identifier{kind: identID, id: id}, nil
	}

	prefix, rest, ok := strings.Cut(s, ":")
	if !ok {
		return identifier{}, fmt.Errorf("malformed task identifier %q", s)
	}
	switch prefix {
	case "id":
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || id < 0 {
			return identifier{}, fmt.Errorf("no task with id %q", rest)
		}
		return identifier{kind: identID, id: id}, nil
	case "uuid":
		if !uuidRe.MatchString(rest) {
			return identifier{}, fmt.Errorf("no task with uuid %q", rest)
		}
		return identifier{kind: identUUID, uuid: rest}, nil
	case "cname":
		if n := len(rest); n < 3 || n > 96 {
			return identifier{}, fmt.Errorf("no task with cname %q", rest)
		}
		return identifier{kind: identCName, cname: rest}, nil
	}
	return identifier{}, fmt.Errorf("malformed task identifier %q", s)
}
