// Package identity 在本地持久化参与者的稳定身份，使重新加入同一房间时不会产生重复成员。
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"movienights/internal/domain"
)

// ErrNoIdentity 本地还没有保存过身份
var ErrNoIdentity = errors.New("identity: no stored identity")

// Provider 读写本地身份
type Provider interface {
	Load(ctx context.Context) (*domain.Identity, error)
	Save(ctx context.Context, id domain.Identity) error
}

// Ensure 读取已保存的身份，不存在时生成新的 participant id。
// name 非空时更新显示名。
func Ensure(ctx context.Context, p Provider, name string) (*domain.Identity, error) {
	id, err := p.Load(ctx)
	switch {
	case errors.Is(err, ErrNoIdentity):
		id = &domain.Identity{ParticipantID: uuid.NewString()}
		logrus.WithField("participant_id", id.ParticipantID).Info("Generated new participant identity")
	case err != nil:
		return nil, fmt.Errorf("identity: load: %w", err)
	}

	if name != "" {
		normalized, ok := domain.NormalizeName(name)
		if !ok {
			return nil, fmt.Errorf("identity: invalid display name %q", name)
		}
		id.DisplayName = normalized
	}
	if err := p.Save(ctx, *id); err != nil {
		return nil, fmt.Errorf("identity: save: %w", err)
	}
	return id, nil
}
