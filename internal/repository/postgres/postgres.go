// Package postgres implements the repository interfaces on PostgreSQL.
package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/internal/repository"
	"github.com/c0x65o/hit-feature-pack-auth-core-sub001/pkg/database"
)

// NewStore wires every PostgreSQL repository onto one pool.
func NewStore(db database.DBTX) *repository.Store {
	return &repository.Store{
		Users:          NewUserRepository(db),
		Groups:         NewGroupRepository(db),
		RefreshTokens:  NewRefreshTokenRepository(db),
		OneTimeTokens:  NewOneTimeTokenRepository(db),
		Impersonations: NewImpersonationRepository(db),
		PermissionSets: NewPermissionSetRepository(db),
		Rules:          NewRuleRepository(db),
		Actions:        NewActionRepository(db),
	}
}

// marshalJSONB encodes a map for a JSONB column; nil becomes {}.
func marshalJSONB(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb: %w", err)
	}
	return b, nil
}

// unmarshalJSONB decodes a JSONB column; empty input yields an empty map.
func unmarshalJSONB(b []byte) (map[string]any, error) {
	m := map[string]any{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode jsonb: %w", err)
	}
	return m, nil
}

// likePattern wraps a search term for ILIKE, escaping wildcards.
func likePattern(q string) string {
	r := make([]rune, 0, len(q)+2)
	r = append(r, '%')
	for _, c := range q {
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(append(r, '%'))
}
