package repository

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/HandlePay/app/models"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user in the database
func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

// CreateIfNotExists inserts the user unless its id, handle or wallet is already taken.
func (r *userRepository) CreateIfNotExists(user *models.User) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(user)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(id string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByHandle matches the handle case-insensitively
func (r *userRepository) FindByHandle(handle string) (*models.User, error) {
	key := models.NormalizeHandle(handle)
	if key == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var user models.User
	if err := r.db.Where("handle_key = ?", key).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByWallet matches the wallet address case-insensitively
func (r *userRepository) FindByWallet(wallet string) (*models.User, error) {
	key := models.NormalizeAddress(wallet)
	if key == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var user models.User
	if err := r.db.Where("wallet_key = ?", key).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindBySubject resolves an external identity provider subject
func (r *userRepository) FindBySubject(subject string) (*models.User, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var user models.User
	if err := r.db.Where("external_subject = ?", subject).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// LinkSubject backfills the external subject on a user that has none yet.
func (r *userRepository) LinkSubject(id, subject string) error {
	return r.db.Model(&models.User{}).
		Where("id = ? AND external_subject IS NULL", id).
		UpdateColumn("external_subject", subject).Error
}

// Update saves all user fields
func (r *userRepository) Update(user *models.User) error {
	return r.db.Save(user).Error
}

// Count returns the number of users
func (r *userRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Count(&count).Error
	return count, err
}
