package oauth2provider

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/walue/internal/tokenstore"
)

const codeKeyPrefix = "oauth_code:"

// CodeStore keeps authorization codes in the TTL store. Redeem is single-use.
type CodeStore struct {
	store tokenstore.Store
}

func NewCodeStore(store tokenstore.Store) *CodeStore {
	return &CodeStore{store: store}
}

func (s *CodeStore) Save(ctx context.Context, code string, payload codePayload, ttl time.Duration) error {
	return tokenstore.SetJSON(ctx, s.store, codeKeyPrefix+code, payload, ttl)
}

// Redeem atomically takes the code. A missing, expired or already redeemed
// code yields ErrInvalidGrant with reason code_not_found.
func (s *CodeStore) Redeem(ctx context.Context, code string) (codePayload, error) {
	var payload codePayload
	if code == "" {
		return payload, grantError(ReasonCodeNotFound)
	}
	if err := tokenstore.TakeJSON(ctx, s.store, codeKeyPrefix+code, &payload); err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return payload, grantError(ReasonCodeNotFound)
		}
		return payload, err
	}
	return payload, nil
}
