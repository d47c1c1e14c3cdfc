package repository

import (
	"context"

	"github.com/sjperalta/fintera-sign-api/internal/models"
	"gorm.io/gorm"
)

// ContractRepository reads the live contracts snapshots are taken from.
// Contract editing belongs to another service.
type ContractRepository interface {
	FindForCustomer(ctx context.Context, customerID, id string) (*models.Contract, error)
	Create(ctx context.Context, contract *models.Contract) error
}

type contractRepository struct {
	db *gorm.DB
}

// NewContractRepository creates a new contract repository
func NewContractRepository(db *gorm.DB) ContractRepository {
	return &contractRepository{db: db}
}

func (r *contractRepository) FindForCustomer(ctx context.Context, customerID, id string) (*models.Contract, error) {
	var contract models.Contract
	err := conn(ctx, r.db).
		Where("id = ? AND customer_id = ?", id, customerID).
		First(&contract).Error
	if err != nil {
		return nil, err
	}
	return &contract, nil
}

func (r *contractRepository) Create(ctx context.Context, contract *models.Contract) error {
	return conn(ctx, r.db).Create(contract).Error
}
