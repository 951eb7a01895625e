package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetUserRepository returns the user repository instance
func (f *Factory) GetUserRepository() UserRepository {
	return f.GetRepositories().User
}

// GetPermissionRepository returns the permission repository instance
func (f *Factory) GetPermissionRepository() PermissionRepository {
	return f.GetRepositories().Permission
}

// GetEarningRepository returns the earning repository instance
func (f *Factory) GetEarningRepository() EarningRepository {
	return f.GetRepositories().Earning
}

// GetPrivacyFootprintRepository returns the footprint repository instance
func (f *Factory) GetPrivacyFootprintRepository() PrivacyFootprintRepository {
	return f.GetRepositories().PrivacyFootprint
}

// GetLedgerEventRepository returns the ledger event repository instance
func (f *Factory) GetLedgerEventRepository() LedgerEventRepository {
	return f.GetRepositories().LedgerEvent
}
