// Package identity resolves handles, wallets and external subjects to users and
// provisions custodial users for handles nobody has claimed yet.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/HandlePay/app/models"
	"github.com/ManuelReschke/HandlePay/app/repository"
	"github.com/ManuelReschke/HandlePay/internal/pkg/apperr"
	"github.com/ManuelReschke/HandlePay/internal/pkg/audit"
	"github.com/ManuelReschke/HandlePay/internal/pkg/chain"
	"github.com/ManuelReschke/HandlePay/internal/pkg/config"
	"github.com/ManuelReschke/HandlePay/internal/pkg/keyvault"
	"github.com/ManuelReschke/HandlePay/internal/pkg/usercontext"
)

const (
	FlagNewCustodialWallet = "new_custodial_wallet_created"
	FlagExternalUserLinked = "privy_user_linked"

	OwnerUserID = "user_owner"
)

// Resolution is the public shape of a resolved or linked user.
type Resolution struct {
	Found           bool     `json:"found"`
	Provisioned     bool     `json:"provisioned"`
	UserID          string   `json:"userId"`
	Handle          string   `json:"handle"`
	WalletAddress   string   `json:"walletAddress"`
	Chain           string   `json:"chain"`
	Custodial       bool     `json:"custodial"`
	ExternalSubject *string  `json:"externalSubject,omitempty"`
	SafetyFlags     []string `json:"safetyFlags"`
}

// LinkInput binds an external identity provider subject to a wallet.
type LinkInput struct {
	Subject       string `json:"externalSubject" validate:"required,max=191"`
	Email         string `json:"email" validate:"omitempty,email"`
	Phone         string `json:"phone" validate:"omitempty,max=32"`
	WalletAddress string `json:"walletAddress" validate:"required,eth_addr"`
}

// Service owns every user lookup and creation path.
type Service struct {
	users     repository.UserRepository
	vault     keyvault.Vault
	audit     *audit.Writer
	chainName string
}

func NewService(users repository.UserRepository, vault keyvault.Vault, auditWriter *audit.Writer, chainName string) *Service {
	if vault == nil {
		vault = keyvault.Unconfigured{}
	}
	return &Service{
		users:     users,
		vault:     vault,
		audit:     auditWriter,
		chainName: chainName,
	}
}

// RequireAuth rejects anonymous principals.
func RequireAuth(actor usercontext.Identity) error {
	if !actor.IsAuthenticated() {
		return apperr.UnauthorizedErr("Authentication required")
	}
	return nil
}

// RequireAdmin rejects principals without admin rights.
func RequireAdmin(actor usercontext.Identity) error {
	if err := RequireAuth(actor); err != nil {
		return err
	}
	if !actor.IsAdmin {
		return apperr.ForbiddenErr("Admin privileges required")
	}
	return nil
}

// Find matches a handle, then a wallet address, then an external subject.
// A miss returns (nil, nil).
func (s *Service) Find(handle string) (*models.User, error) {
	lookups := []func(string) (*models.User, error){
		s.users.FindByHandle,
		s.users.FindByWallet,
		s.users.FindBySubject,
	}
	for _, lookup := range lookups {
		user, err := lookup(handle)
		if err == nil {
			return user, nil
		}
		if !repository.IsNotFound(err) {
			return nil, apperr.Wrap(err)
		}
	}
	return nil, nil
}

// ResolveOrProvision returns the user behind handle, creating a custodial user
// with a fresh wallet when none exists.
func (s *Service) ResolveOrProvision(ctx context.Context, handle string) (*models.User, bool, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, false, apperr.InvalidErr("handle is required")
	}

	user, err := s.Find(handle)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		return user, false, nil
	}
	return s.provisionCustodial(ctx, handle)
}

func (s *Service) provisionCustodial(ctx context.Context, handle string) (*models.User, bool, error) {
	wallet, err := s.vault.GenerateWallet()
	if err != nil {
		if errors.Is(err, keyvault.ErrNotConfigured) {
			return nil, false, &apperr.AppError{Kind: apperr.Internal, PublicMsg: err.Error(), Err: err}
		}
		return nil, false, apperr.Wrap(err)
	}

	sealed := wallet.EncryptedKey
	user := &models.User{
		ID:                  models.NewUserID(),
		Handle:              handle,
		WalletAddress:       wallet.Address,
		Chain:               s.chainName,
		Custodial:           true,
		EncryptedPrivateKey: &sealed,
	}
	created, err := s.users.CreateIfNotExists(user)
	if err != nil {
		return nil, false, apperr.Wrap(err)
	}
	if !created {
		// a concurrent request claimed the handle first
		winner, err := s.users.FindByHandle(handle)
		if err != nil {
			return nil, false, apperr.Wrap(err)
		}
		return winner, false, nil
	}

	log.Infof("[Identity] Provisioned custodial user %s for handle %s", user.ID, handle)
	return user, true, nil
}

// ResolveRecipient is the audited lookup used before a payment is prepared.
func (s *Service) ResolveRecipient(ctx context.Context, actor usercontext.Identity, handle string) (*Resolution, error) {
	if err := RequireAuth(actor); err != nil {
		return nil, err
	}

	user, provisioned, err := s.ResolveOrProvision(ctx, handle)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.Subject, "resolve_recipient", user.ID, map[string]any{
		"handle":      handle,
		"provisioned": provisioned,
	})

	res := toResolution(user, provisioned)
	if provisioned {
		res.SafetyFlags = append(res.SafetyFlags, FlagNewCustodialWallet)
	}
	return res, nil
}

// LinkExternalIdentity creates or rewrites the user owning an external subject.
// A rewritten user becomes non-custodial and loses any stored key.
func (s *Service) LinkExternalIdentity(ctx context.Context, actor usercontext.Identity, in LinkInput) (*Resolution, error) {
	if err := RequireAuth(actor); err != nil {
		return nil, err
	}
	in.Subject = strings.TrimSpace(in.Subject)
	if in.Subject == "" {
		return nil, apperr.InvalidErr("externalSubject is required")
	}
	if !chain.IsAddress(in.WalletAddress) {
		return nil, apperr.InvalidErr("walletAddress must be a 0x-prefixed 20 byte address")
	}
	if !actor.IsAdmin && actor.Subject != in.Subject {
		return nil, apperr.ForbiddenErr("Cannot link another user's identity")
	}

	handle := firstNonBlank(in.Email, in.Phone, "privy:"+in.Subject)

	existing, err := s.firstMatch(
		func() (*models.User, error) { return s.users.FindBySubject(in.Subject) },
		func() (*models.User, error) { return s.users.FindByHandle(handle) },
		func() (*models.User, error) { return s.users.FindByWallet(in.WalletAddress) },
	)
	if err != nil {
		return nil, err
	}

	subject := in.Subject
	provisioned := false
	var user *models.User
	if existing == nil {
		user = &models.User{
			ID:              models.NewUserID(),
			Handle:          handle,
			WalletAddress:   in.WalletAddress,
			Chain:           s.chainName,
			ExternalSubject: &subject,
		}
		if err := s.users.Create(user); err != nil {
			if repository.IsDuplicateKey(err) {
				return nil, apperr.ConflictErr("Handle or wallet already belongs to another user")
			}
			return nil, apperr.Wrap(err)
		}
		provisioned = true
	} else {
		user = existing
		user.Handle = handle
		user.WalletAddress = in.WalletAddress
		user.ExternalSubject = &subject
		user.Custodial = false
		user.EncryptedPrivateKey = nil
		if err := s.users.Update(user); err != nil {
			if repository.IsDuplicateKey(err) {
				return nil, apperr.ConflictErr("Handle or wallet already belongs to another user")
			}
			return nil, apperr.Wrap(err)
		}
	}

	s.audit.Record(ctx, actor.Subject, "link_external_identity", user.ID, map[string]any{
		"provisioned": provisioned,
	})

	res := toResolution(user, provisioned)
	if provisioned {
		res.SafetyFlags = append(res.SafetyFlags, FlagExternalUserLinked)
	}
	return res, nil
}

// ResolveActor maps the authenticated principal to its user: by subject, then by
// wallet claim (backfilling the subject), else a new non-custodial user.
func (s *Service) ResolveActor(ctx context.Context, actor usercontext.Identity) (*models.User, error) {
	if err := RequireAuth(actor); err != nil {
		return nil, err
	}

	user, err := s.users.FindBySubject(actor.Subject)
	if err == nil {
		return user, nil
	}
	if !repository.IsNotFound(err) {
		return nil, apperr.Wrap(err)
	}

	if actor.WalletAddress != "" {
		user, err := s.users.FindByWallet(actor.WalletAddress)
		if err == nil {
			if user.ExternalSubject == nil {
				if err := s.users.LinkSubject(user.ID, actor.Subject); err != nil {
					return nil, apperr.Wrap(err)
				}
				subject := actor.Subject
				user.ExternalSubject = &subject
			}
			return user, nil
		}
		if !repository.IsNotFound(err) {
			return nil, apperr.Wrap(err)
		}
	}

	if actor.WalletAddress == "" {
		return nil, apperr.UnauthorizedErr("Authenticated token missing wallet address claim")
	}

	fallback := "auth:" + actor.Subject
	handle := firstNonBlank(actor.Email, actor.Phone, fallback)
	if handle != fallback {
		if _, err := s.users.FindByHandle(handle); err == nil {
			handle = fallback
		}
	}

	subject := actor.Subject
	user = &models.User{
		ID:              models.NewUserID(),
		Handle:          handle,
		WalletAddress:   actor.WalletAddress,
		Chain:           s.chainName,
		ExternalSubject: &subject,
	}
	if err := s.users.Create(user); err != nil {
		if repository.IsDuplicateKey(err) {
			// lost a race with a concurrent first request of the same principal
			if winner, ferr := s.users.FindBySubject(actor.Subject); ferr == nil {
				return winner, nil
			}
			return nil, apperr.ConflictErr("Wallet already belongs to another user")
		}
		return nil, apperr.Wrap(err)
	}
	log.Infof("[Identity] Created user %s for subject %s", user.ID, actor.Subject)
	return user, nil
}

// AccessibleUser returns userID if the actor may read it.
func (s *Service) AccessibleUser(ctx context.Context, actor usercontext.Identity, userID string) (*models.User, error) {
	self, err := s.ResolveActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && self.ID != userID {
		return nil, apperr.ForbiddenErr("Cannot access another user data")
	}
	return s.GetUser(userID)
}

// GetUser loads a user by id, NotFound when absent.
func (s *Service) GetUser(userID string) (*models.User, error) {
	user, err := s.users.GetByID(userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperr.NotFoundErr("User not found")
		}
		return nil, apperr.Wrap(err)
	}
	return user, nil
}

// LookupWallet is the best-effort directory used by ledger views.
func (s *Service) LookupWallet(wallet string) (*models.User, bool) {
	user, err := s.users.FindByWallet(wallet)
	if err != nil {
		return nil, false
	}
	return user, true
}

// SeedOwner creates the operator's custodial user on an empty users table.
func (s *Service) SeedOwner(cfg config.CustodyConfig) error {
	if cfg.OwnerWallet == "" || cfg.OwnerPrivateKey == "" {
		return nil
	}
	count, err := s.users.Count()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	sealed, err := s.vault.Encrypt(cfg.OwnerPrivateKey)
	if err != nil {
		return err
	}
	handle := cfg.OwnerHandle
	if handle == "" {
		handle = "owner@local"
	}
	created, err := s.users.CreateIfNotExists(&models.User{
		ID:                  OwnerUserID,
		Handle:              handle,
		WalletAddress:       cfg.OwnerWallet,
		Chain:               s.chainName,
		Custodial:           true,
		EncryptedPrivateKey: &sealed,
	})
	if err != nil {
		return err
	}
	if created {
		log.Infof("[Identity] Seeded owner user %s (%s)", OwnerUserID, handle)
	}
	return nil
}

func (s *Service) firstMatch(lookups ...func() (*models.User, error)) (*models.User, error) {
	for _, lookup := range lookups {
		user, err := lookup()
		if err == nil {
			return user, nil
		}
		if !repository.IsNotFound(err) {
			return nil, apperr.Wrap(err)
		}
	}
	return nil, nil
}

func toResolution(user *models.User, provisioned bool) *Resolution {
	return &Resolution{
		Found:           true,
		Provisioned:     provisioned,
		UserID:          user.ID,
		Handle:          user.Handle,
		WalletAddress:   user.WalletAddress,
		Chain:           user.Chain,
		Custodial:       user.Custodial,
		ExternalSubject: user.ExternalSubject,
		SafetyFlags:     []string{},
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
