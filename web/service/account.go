package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mhsanaei/xray-daemon/database"
	"github.com/mhsanaei/xray-daemon/database/model"
	"github.com/mhsanaei/xray-daemon/logger"
	"github.com/mhsanaei/xray-daemon/util/random"
	"github.com/mhsanaei/xray-daemon/web/entity"
	"github.com/mhsanaei/xray-daemon/xray"

	"github.com/google/uuid"
	"github.com/xtls/xray-core/proxy/shadowsocks"
	"gorm.io/gorm"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrInvalidAccount  = errors.New("invalid account")
)

const (
	minEmailLength = 3
	maxEmailLength = 128
	maxFlowLength  = 32
	maxTagLength   = 64
)

// AccountService stores accounts and keeps xray in step with management
// changes. It implements AccountStore for the reconciler.
type AccountService struct {
	db  *gorm.DB
	api UserProvisioner
}

func NewAccountService(db *gorm.DB, api UserProvisioner) *AccountService {
	return &AccountService{db: db, api: api}
}

func (s *AccountService) GetAccounts() ([]*model.Account, error) {
	var accounts []*model.Account
	err := s.db.Model(model.Account{}).
		Order("inbound_tag, email").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *AccountService) GetInboundAccounts(inboundTag string) ([]*model.Account, error) {
	var accounts []*model.Account
	err := s.db.Model(model.Account{}).
		Where("inbound_tag = ?", inboundTag).
		Order("email").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetInboundTags lists the distinct inbounds that have accounts.
func (s *AccountService) GetInboundTags() ([]string, error) {
	var tags []string
	err := s.db.Model(model.Account{}).
		Distinct("inbound_tag").
		Order("inbound_tag").
		Pluck("inbound_tag", &tags).Error
	if err != nil {
		return nil, err
	}
	return tags, nil
}

func (s *AccountService) GetAccount(inboundTag, email string) (*model.Account, error) {
	account := &model.Account{}
	err := s.db.Model(model.Account{}).
		Where("inbound_tag = ? AND email = ?", inboundTag, email).
		First(account).Error
	if database.IsNotFound(err) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// UpdateAccount writes the set fields of update. It reports false, without
// error, when the account does not exist.
func (s *AccountService) UpdateAccount(inboundTag, email string, update model.AccountUpdate) (bool, error) {
	if update.IsEmpty() {
		var count int64
		err := s.db.Model(&model.Account{}).
			Where("inbound_tag = ? AND email = ?", inboundTag, email).
			Count(&count).Error
		return count > 0, err
	}
	result := s.db.Model(&model.Account{}).
		Where("inbound_tag = ? AND email = ?", inboundTag, email).
		Updates(update.Columns())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// PatchAccount applies a management update. Negative quotas and traffic are
// clamped to zero. The next pass brings xray in line with the new state.
func (s *AccountService) PatchAccount(inboundTag, email string, update model.AccountUpdate) error {
	if update.Quota != nil && *update.Quota < 0 {
		zero := int64(0)
		update.Quota = &zero
	}
	if update.Traffic != nil && *update.Traffic < 0 {
		zero := int64(0)
		update.Traffic = &zero
	}
	if update.ResetTrafficAt != nil {
		at := update.ResetTrafficAt.UTC().Truncate(time.Second)
		update.ResetTrafficAt = &at
	}
	found, err := s.UpdateAccount(inboundTag, email, update)
	if err != nil {
		return err
	}
	if !found {
		return ErrAccountNotFound
	}
	return nil
}

// CreateAccount validates req, generates credentials, stores the account and
// provisions it. When provisioning fails the stored account is left inactive
// so the next pass retries, and the remote error is returned with it.
func (s *AccountService) CreateAccount(ctx context.Context, inboundTag string, req *entity.CreateAccountRequest) (*model.Account, error) {
	account, err := newAccount(inboundTag, req)
	if err != nil {
		return nil, err
	}

	if err := s.db.Create(account).Error; err != nil {
		if database.IsDuplicate(err) {
			return nil, ErrAccountExists
		}
		return nil, err
	}

	if err := s.api.AddUser(ctx, account.ToXrayUser()); err != nil {
		account.Active = false
		inactive := false
		if _, updateErr := s.UpdateAccount(account.InboundTag, account.Email, model.AccountUpdate{Active: &inactive}); updateErr != nil {
			logger.Warningf("account %s on %s left active after failed provisioning: %v", account.Email, inboundTag, updateErr)
		}
		return account, fmt.Errorf("provision %s on %s: %w", account.Email, inboundTag, err)
	}
	logger.Infof("account %s created on %s", account.Email, inboundTag)
	return account, nil
}

// DeleteAccount removes the account from the store and from xray. A user
// xray no longer knows is not an error.
func (s *AccountService) DeleteAccount(ctx context.Context, inboundTag, email string) error {
	result := s.db.Where("inbound_tag = ? AND email = ?", inboundTag, email).Delete(&model.Account{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	err := s.api.RemoveUser(ctx, inboundTag, email)
	if err != nil && !xray.IsKind(err, xray.KindNotFound) && !xray.IsKind(err, xray.KindHandlerNotFound) {
		return fmt.Errorf("deprovision %s on %s: %w", email, inboundTag, err)
	}
	logger.Infof("account %s deleted from %s", email, inboundTag)
	return nil
}

// ImportAccounts provisions every active account, for an xray process that
// started without them. It returns how many accounts xray now serves.
func (s *AccountService) ImportAccounts(ctx context.Context) (int, error) {
	accounts, err := s.GetAccounts()
	if err != nil {
		return 0, err
	}
	imported := 0
	for _, account := range accounts {
		if !account.Active {
			continue
		}
		if ctx.Err() != nil {
			return imported, ctx.Err()
		}
		err := s.api.AddUser(ctx, account.ToXrayUser())
		if err != nil && !xray.IsKind(err, xray.KindAlreadyExists) {
			logger.Warningf("import %s to %s: %v", account.Email, account.InboundTag, err)
			continue
		}
		imported++
	}
	logger.Infof("imported %d accounts into xray", imported)
	return imported, nil
}

func newAccount(inboundTag string, req *entity.CreateAccountRequest) (*model.Account, error) {
	email := strings.TrimSpace(req.Email)
	if len(email) < minEmailLength || len(email) > maxEmailLength {
		return nil, fmt.Errorf("%w: email must be %d to %d characters", ErrInvalidAccount, minEmailLength, maxEmailLength)
	}
	if inboundTag == "" || len(inboundTag) > maxTagLength {
		return nil, fmt.Errorf("%w: inbound tag must be 1 to %d characters", ErrInvalidAccount, maxTagLength)
	}

	protocol := req.Protocol
	if protocol == "" {
		protocol = xray.VLess
	}
	if !protocol.IsValid() {
		return nil, fmt.Errorf("%w: unsupported protocol %q", ErrInvalidAccount, protocol)
	}

	flow := model.DefaultFlow
	if req.Flow != nil {
		flow = *req.Flow
	}
	if len(flow) > maxFlowLength {
		return nil, fmt.Errorf("%w: flow must be at most %d characters", ErrInvalidAccount, maxFlowLength)
	}

	quota := req.Quota
	if quota < 0 {
		quota = 0
	}
	level := req.Level
	if level < 0 {
		level = 0
	}

	account := &model.Account{
		InboundTag:     inboundTag,
		Email:          email,
		Level:          level,
		Protocol:       protocol,
		Flow:           flow,
		Quota:          quota,
		Active:         true,
		ResetTrafficAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := generateCredentials(account, strings.ToLower(strings.TrimSpace(req.Cipher))); err != nil {
		return nil, err
	}
	return account, nil
}

func generateCredentials(account *model.Account, cipher string) error {
	switch account.Protocol {
	case xray.VMess, xray.VLess:
		account.UUID = uuid.NewString()
	case xray.Shadowsocks:
		if xray.ParseCipherType(cipher) == shadowsocks.CipherType_UNKNOWN {
			return fmt.Errorf("%w: unsupported shadowsocks cipher %q", ErrInvalidAccount, cipher)
		}
		account.Cipher = cipher
		account.Password = random.Seq(22)
	case xray.Shadowsocks2022:
		// the inbound decides the method; only the key size follows from it
		if cipher == "2022-blake3-aes-128-gcm" {
			account.Password = random.Key(16)
		} else {
			account.Password = random.Key(32)
		}
	default:
		account.Password = random.Seq(22)
	}
	return nil
}
