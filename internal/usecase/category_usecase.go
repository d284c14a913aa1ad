package usecase

import (
	"context"
	"errors"
	"strings"

	"shopapi/internal/domain/model"
	repo "shopapi/internal/repository"
)

type CategoryUsecase struct {
	tx           repo.TransactionManager
	categoryRepo repo.CategoryRepository
}

func NewCategoryUsecase(tx repo.TransactionManager, categoryRepo repo.CategoryRepository) *CategoryUsecase {
	return &CategoryUsecase{tx: tx, categoryRepo: categoryRepo}
}

type CategoryInput struct {
	Name        string
	Description string
}

func (in CategoryInput) validate() error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return errValidation("name required")
	}
	if len(name) > 100 {
		return errValidation("name too long")
	}
	if len(in.Description) > 500 {
		return errValidation("description too long")
	}
	return nil
}

func (u *CategoryUsecase) List(ctx context.Context) ([]model.Category, error) {
	items, err := u.categoryRepo.List(ctx)
	if err != nil {
		return []model.Category{}, errInternal(err)
	}
	return items, nil
}

func (u *CategoryUsecase) Get(ctx context.Context, id int64) (model.Category, error) {
	c, err := u.categoryRepo.FindByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Category{}, errNotFound("category")
	}
	if err != nil {
		return model.Category{}, errInternal(err)
	}
	return c, nil
}

func (u *CategoryUsecase) Create(ctx context.Context, actor Actor, in CategoryInput) (model.Category, error) {
	if err := requireAdmin(actor); err != nil {
		return model.Category{}, err
	}
	if err := in.validate(); err != nil {
		return model.Category{}, err
	}

	c, err := u.categoryRepo.Create(ctx, model.Category{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
	})
	if errors.Is(err, repo.ErrDuplicate) {
		return model.Category{}, NewError(KindConflict, "category name already exists")
	}
	if err != nil {
		return model.Category{}, errInternal(err)
	}
	return c, nil
}

func (u *CategoryUsecase) Update(ctx context.Context, actor Actor, id int64, in CategoryInput) (model.Category, error) {
	if err := requireAdmin(actor); err != nil {
		return model.Category{}, err
	}
	if err := in.validate(); err != nil {
		return model.Category{}, err
	}

	c := model.Category{
		ID:          id,
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
	}
	err := u.categoryRepo.Update(ctx, c)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return model.Category{}, errNotFound("category")
	case errors.Is(err, repo.ErrDuplicate):
		return model.Category{}, NewError(KindConflict, "category name already exists")
	case err != nil:
		return model.Category{}, errInternal(err)
	}
	return u.Get(ctx, id)
}

// 商品が残っているカテゴリは消せない
func (u *CategoryUsecase) Delete(ctx context.Context, actor Actor, id int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Categories().FindByID(ctx, id); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return errNotFound("category")
			}
			return errInternal(err)
		}

		n, err := r.Products().CountByCategory(ctx, id)
		if err != nil {
			return errInternal(err)
		}
		if n > 0 {
			return NewError(KindConflict, "category still has products")
		}

		err = r.Categories().Delete(ctx, id)
		switch {
		case errors.Is(err, repo.ErrInUse):
			// 論理削除済みの商品が参照している
			return NewError(KindConflict, "category is referenced by past products")
		case errors.Is(err, repo.ErrNotFound):
			return errNotFound("category")
		case err != nil:
			return errInternal(err)
		}
		return nil
	})
	return wrapErr(err)
}
