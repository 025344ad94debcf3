package di

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/go-playground/validator/v10"
)

var schemaValidator = validator.New(validator.WithRequiredStructEnabled())

// Token identifies an injectable concept independently of the implementation
// registered for it. Two tokens created from the same name carry the same id,
// so repeated declarations of the same concept converge on one identity.
type Token struct {
	name   string
	id     string
	schema string
}

// TokenOption configures a token at creation time.
type TokenOption func(*Token)

// WithID overrides the derived id. Use when two differently named tokens must
// deliberately share an identity.
func WithID(id string) TokenOption {
	return func(t *Token) {
		t.id = id
	}
}

// WithSchema attaches an argument schema expressed as validator tags, e.g.
// "required,min=1". Struct arguments are validated against their own
// `validate` struct tags; any other argument is validated against the tag
// expression directly.
func WithSchema(rules string) TokenOption {
	return func(t *Token) {
		t.schema = rules
	}
}

// NewToken creates a token. The id is a deterministic hash of the name, so
// independently constructed tokens with equal names compare equal by id.
func NewToken(name string, opts ...TokenOption) *Token {
	t := &Token{
		name: name,
		id:   fmt.Sprintf("%016x", xxhash.Sum64String(name)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the human-readable token name.
func (t *Token) Name() string {
	return t.name
}

// ID returns the stable token id.
func (t *Token) ID() string {
	return t.id
}

// Schema returns the validator tag expression attached to the token, or the
// empty string when the token carries no schema.
func (t *Token) Schema() string {
	return t.schema
}

// Equal reports whether both tokens denote the same concept.
func (t *Token) Equal(other *Token) bool {
	return other != nil && t.id == other.id
}

func (t *Token) String() string {
	return fmt.Sprintf("Token(%s)", t.name)
}

// Base implements Injectable.
func (t *Token) Base() *Token {
	return t
}

func (t *Token) resolveArgs(callerArgs []any) ([]any, error) {
	if err := t.validateArgs(callerArgs); err != nil {
		return nil, err
	}
	return callerArgs, nil
}

// validateArgs checks caller arguments against the token schema. Tokens
// without a schema accept anything.
func (t *Token) validateArgs(args []any) error {
	if t.schema == "" {
		return nil
	}
	if len(args) == 0 {
		return &ValidationError{Token: t.name, Err: fmt.Errorf("schema %q requires an argument", t.schema)}
	}
	for _, arg := range args {
		var err error
		if arg != nil && reflect.ValueOf(arg).Kind() == reflect.Struct {
			err = schemaValidator.Struct(arg)
		} else {
			err = schemaValidator.Var(arg, t.schema)
		}
		if err != nil {
			return &ValidationError{Token: t.name, Err: err}
		}
	}
	return nil
}

// BoundToken is a token plus a pre-supplied argument value. Resolution always
// uses the bound value and ignores caller-supplied arguments.
type BoundToken struct {
	token *Token
	value any
}

// Bind attaches a fixed argument value to a token.
func Bind(token *Token, value any) *BoundToken {
	return &BoundToken{token: token, value: value}
}

// Base implements Injectable.
func (b *BoundToken) Base() *Token {
	return b.token
}

// Value returns the bound argument.
func (b *BoundToken) Value() any {
	return b.value
}

func (b *BoundToken) resolveArgs([]any) ([]any, error) {
	args := []any{b.value}
	if err := b.token.validateArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}

// FactoryToken is a token whose argument is produced lazily, exactly once,
// by a deferred function. The first resolution invokes the function; every
// later resolution reuses the cached argument (or the cached error).
type FactoryToken struct {
	token *Token
	fn    func() (any, error)

	once  sync.Once
	value any
	err   error
}

// Factory attaches a one-shot argument producer to a token.
func Factory(token *Token, fn func() (any, error)) *FactoryToken {
	return &FactoryToken{token: token, fn: fn}
}

// Base implements Injectable.
func (f *FactoryToken) Base() *Token {
	return f.token
}

func (f *FactoryToken) resolveArgs([]any) ([]any, error) {
	f.once.Do(func() {
		f.value, f.err = f.fn()
	})
	if f.err != nil {
		return nil, f.err
	}
	args := []any{f.value}
	if err := f.token.validateArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}
