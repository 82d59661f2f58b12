package listing

import (
	"context"
	"errors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gearmarket/chat-relay/pkg/log"
)

type listingModel struct {
	ID     string `gorm:"column:id;primaryKey"`
	Title  string `gorm:"column:title"`
	UserID string `gorm:"column:user_id"`
}

func (listingModel) TableName() string {
	return "listings"
}

// GormResolver reads listings from the marketplace's Postgres database.
// Read-only: the chat core never writes listing data.
type GormResolver struct {
	db *gorm.DB
}

func NewGormResolver(dsn string) (*GormResolver, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &GormResolver{db: db}, nil
}

// NewGormResolverFromDB wraps an existing gorm handle (used by tests).
func NewGormResolverFromDB(db *gorm.DB) *GormResolver {
	return &GormResolver{db: db}
}

func (r *GormResolver) Resolve(ctx context.Context, id string) (*Listing, error) {
	var m listingModel
	result := r.db.WithContext(ctx).First(&m, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrListingNotFound
		}
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldListingID, id).Msg("failed to resolve listing")
		return nil, result.Error
	}

	return &Listing{
		ID:       m.ID,
		Title:    m.Title,
		SellerID: m.UserID,
	}, nil
}
