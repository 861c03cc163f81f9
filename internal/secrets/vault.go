package secrets

import (
	"context"
	"regexp"
	"strings"

	"github.com/rendis/leadflow/pkg/schema"
)

// Vault keeps delivery credentials (sender API keys, webhook tokens) encrypted
// at rest and hands them out decrypted only in memory.
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore is the persistence the vault writes ciphertext to.
// Satisfied by store.Store.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

var refPattern = regexp.MustCompile(`\$\{\{\s*secrets\.([A-Za-z0-9_.\-]+)\s*\}\}`)

// ResolveString returns a secret as trimmed text.
func ResolveString(ctx context.Context, v Vault, key string) (string, error) {
	raw, err := v.Resolve(ctx, key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// ExpandRefs replaces every ${{secrets.KEY}} in s with the decrypted value.
// A reference to an unknown key fails with VAULT_ERROR naming the key.
func ExpandRefs(ctx context.Context, v Vault, s string) (string, error) {
	matches := refPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		key := s[m[2]:m[3]]
		val, err := ResolveString(ctx, v, key)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeVault, "resolve secret %q", key).WithCause(err)
		}
		b.WriteString(s[last:m[0]])
		b.WriteString(val)
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}
