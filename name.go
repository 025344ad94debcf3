package di

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// maxArgBytes caps the serialized length of a single argument inside an
// instance name. Longer serializations keep a prefix plus a hash of the full
// value so distinct arguments still produce distinct names.
const maxArgBytes = 48

// instanceName derives the storage key for a (token, args) pair. The same
// token and deeply equal arguments always produce the same name; the name is
// what deduplicates concurrent resolutions.
func instanceName(token *Token, args []any) string {
	if len(args) == 0 {
		return token.name + "@" + token.id
	}
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, serializeArg(arg))
	}
	return token.name + "@" + token.id + "(" + strings.Join(parts, ",") + ")"
}

// serializeArg renders one argument deterministically. encoding/json sorts
// map keys and walks struct fields in declaration order, which is stable
// across calls within one build.
func serializeArg(arg any) string {
	raw, err := json.Marshal(arg)
	if err != nil {
		raw = []byte(fmt.Sprintf("%#v", arg))
	}
	s := string(raw)
	if len(s) <= maxArgBytes {
		return s
	}
	// Back up to a rune boundary so the name stays valid UTF-8.
	cut := maxArgBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s…%016x", s[:cut], xxhash.Sum64String(s))
}
