// Package admin applies administrative account changes and announces them
// to live subscribers.
package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"waveScope/internal/model"
	"waveScope/internal/numeric"
	"waveScope/internal/storage"
)

// Notifier announces account changes.
type Notifier interface {
	UsersUpdated()
	AccountKicked(accountID string)
}

type Service struct {
	store    storage.Admin
	notifier Notifier
	logger   *zap.Logger
}

func NewService(store storage.Admin, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, notifier: notifier, logger: logger}
}

// Ban marks the account banned and disconnects its live sessions.
func (s *Service) Ban(ctx context.Context, accountID string) (model.Account, error) {
	acct, err := s.store.SetBanned(ctx, accountID, true)
	if err != nil {
		return model.Account{}, fmt.Errorf("ban account %s: %w", accountID, err)
	}
	s.logger.Info("account banned", zap.String("account", accountID), zap.String("address", acct.Address))
	if s.notifier != nil {
		s.notifier.AccountKicked(accountID)
		s.notifier.UsersUpdated()
	}
	return acct, nil
}

func (s *Service) Unban(ctx context.Context, accountID string) (model.Account, error) {
	acct, err := s.store.SetBanned(ctx, accountID, false)
	if err != nil {
		return model.Account{}, fmt.Errorf("unban account %s: %w", accountID, err)
	}
	s.logger.Info("account unbanned", zap.String("account", accountID), zap.String("address", acct.Address))
	if s.notifier != nil {
		s.notifier.UsersUpdated()
	}
	return acct, nil
}

// Upsert creates or renames an account by wallet address.
// The address is stored in canonical lowercase form so the engine resolves
// the same account from contract events.
func (s *Service) Upsert(ctx context.Context, address, username string) (model.Account, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return model.Account{}, fmt.Errorf("upsert account: %q is not a hex address", address)
	}
	address = numeric.NormalizeAddress(address)
	acct, err := s.store.UpsertAccount(ctx, address, username)
	if err != nil {
		return model.Account{}, fmt.Errorf("upsert account %s: %w", address, err)
	}
	if s.notifier != nil {
		s.notifier.UsersUpdated()
	}
	return acct, nil
}
