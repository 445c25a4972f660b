package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VoucherRepository reads the voucher module's table.
type VoucherRepository struct {
	pool *pgxpool.Pool
}

// NewVoucherRepository constructs VoucherRepository.
func NewVoucherRepository(pool *pgxpool.Pool) *VoucherRepository {
	return &VoucherRepository{pool: pool}
}

// CountVouchers counts vouchers of the allocation in any of states.
func (r *VoucherRepository) CountVouchers(ctx context.Context, allocationID uuid.UUID, states []VoucherState) (int, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vouchers WHERE allocation_id=$1 AND state = ANY($2)`, allocationID, names).Scan(&n)
	return n, err
}

// ProductRepository resolves product references against the catalogue.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository constructs ProductRepository.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// ResolveProduct loads the wine variant, format and label behind ref.
func (r *ProductRepository) ResolveProduct(ctx context.Context, ref ProductRef) (Product, error) {
	if !ref.Valid() {
		return Product{}, Invalid("product", "unknown reference %s", ref)
	}
	table := "sellable_skus"
	if ref.Kind == ProductLiquidProduct {
		table = "liquid_products"
	}
	p := Product{Ref: ref}
	err := r.pool.QueryRow(ctx, `SELECT wine_variant_id, format_id, label FROM `+table+` WHERE id=$1`, ref.ID).
		Scan(&p.WineVariantID, &p.FormatID, &p.Label)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("product %s: %w", ref, ErrNotFound)
		}
		return Product{}, err
	}
	return p, nil
}
