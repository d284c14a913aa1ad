package db

import (
	"context"
	"errors"
	"fmt"

	"shopapi/internal/domain/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type SeedOptions struct {
	AdminEmail    string
	AdminPassword string
	BcryptCost    int
}

// Seed は初期データを入れる。すでにあるものは触らない。
func Seed(ctx context.Context, gdb *gorm.DB, opt SeedOptions, log zerolog.Logger) error {
	return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := seedAdmin(tx, opt, log); err != nil {
			return err
		}
		return seedCatalog(tx, log)
	})
}

func seedAdmin(tx *gorm.DB, opt SeedOptions, log zerolog.Logger) error {
	if opt.AdminEmail == "" {
		return nil
	}
	var u model.User
	err := tx.Where("email = ?", opt.AdminEmail).First(&u).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(opt.AdminPassword), opt.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	admin := model.User{
		ID:           uuid.NewString(),
		Name:         "Administrador",
		Email:        opt.AdminEmail,
		PasswordHash: string(hash),
		Role:         model.RoleAdmin,
		IsActive:     true,
	}
	if err := tx.Create(&admin).Error; err != nil {
		return err
	}
	log.Info().Str("email", admin.Email).Msg("seeded admin user")
	return nil
}

func seedCatalog(tx *gorm.DB, log zerolog.Logger) error {
	var n int64
	if err := tx.Model(&model.Category{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	electronics := model.Category{Name: "Electrónica", Description: "Dispositivos electrónicos"}
	clothes := model.Category{Name: "Ropa", Description: "Vestimenta"}
	if err := tx.Create(&electronics).Error; err != nil {
		return err
	}
	if err := tx.Create(&clothes).Error; err != nil {
		return err
	}

	products := []model.Product{
		{Name: "Auriculares", Description: "Auriculares inalámbricos", Price: decimal.RequireFromString("59.99"), Stock: 10, CategoryID: electronics.ID},
		{Name: "Camiseta", Description: "Camiseta de algodón", Price: decimal.RequireFromString("19.99"), Stock: 50, CategoryID: clothes.ID},
	}
	if err := tx.Create(&products).Error; err != nil {
		return err
	}
	log.Info().Int("categories", 2).Int("products", len(products)).Msg("seeded catalog")
	return nil
}
