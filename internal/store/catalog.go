package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/stkledger/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrServiceNotFound = errors.New("service not found")

// CatalogStore persists salon services and bookings through gorm.
type CatalogStore struct {
	db *gorm.DB
}

// OpenCatalog connects to Postgres and migrates the catalog tables.
func OpenCatalog(dsn string) (*CatalogStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to connect to catalog database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Service{}, &domain.Booking{}); err != nil {
		return nil, fmt.Errorf("catalog migration failed: %w", err)
	}

	return &CatalogStore{db: db}, nil
}

func (c *CatalogStore) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (c *CatalogStore) CreateService(ctx context.Context, svc *domain.Service) error {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	return c.db.WithContext(ctx).Create(svc).Error
}

func (c *CatalogStore) ListServices(ctx context.Context) ([]domain.Service, error) {
	var services []domain.Service
	err := c.db.WithContext(ctx).Order("created_at").Find(&services).Error
	return services, err
}

// CreateBooking stores b after checking that its service exists, then loads
// the service onto the booking.
func (c *CatalogStore) CreateBooking(ctx context.Context, b *domain.Booking) error {
	var svc domain.Service
	err := c.db.WithContext(ctx).Where("id = ?", b.ServiceID).First(&svc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrServiceNotFound
	}
	if err != nil {
		return err
	}

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Date.IsZero() {
		b.Date = time.Now().UTC()
	}
	if err := c.db.WithContext(ctx).Omit("Service").Create(b).Error; err != nil {
		return err
	}
	b.Service = &svc
	return nil
}

func (c *CatalogStore) ListBookings(ctx context.Context) ([]domain.Booking, error) {
	var bookings []domain.Booking
	err := c.db.WithContext(ctx).Preload("Service").Order("created_at").Find(&bookings).Error
	return bookings, err
}
