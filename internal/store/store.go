package store

import (
	"context"
	"errors"
	"time"

	"dcmart/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
)

type Repository interface {
	ListProducts(ctx context.Context, includeArchived bool) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error)
	GetBatchByID(ctx context.Context, id string) (*domain.Batch, error)
	ListBatchesByProduct(ctx context.Context, productID string) ([]domain.Batch, error)
	// ReserveBatchStock provisionally holds qty base units; it fails with
	// ErrInsufficientStock when the hold would exceed on-hand stock.
	ReserveBatchStock(ctx context.Context, batchID string, qty float64) (*domain.Batch, error)
	// ReleaseBatchStock returns a provisional hold; reservations clamp at zero.
	ReleaseBatchStock(ctx context.Context, batchID string, qty float64) (*domain.Batch, error)
	// ConsumeBatchStock decrements on-hand (and any matching reservation) by
	// qty base units after a sale is accepted.
	ConsumeBatchStock(ctx context.Context, batchID string, qty float64) (*domain.Batch, error)

	// NextBillSequence atomically increments and returns the per-day bill
	// counter for the given date key. At-most-one issuance of each value
	// must hold under concurrent calls.
	NextBillSequence(ctx context.Context, dateKey string) (int, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByClientID(ctx context.Context, saleClientID string) (*domain.Sale, error)
	ListSalesByDateRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	CreateSupplierInvoice(ctx context.Context, invoice domain.SupplierInvoice) (*domain.SupplierInvoice, error)
	ListSupplierInvoices(ctx context.Context, supplierID string) ([]domain.SupplierInvoice, error)
	// ApplySupplierPayment records the payment and decrements the invoice
	// balance; balances never go below zero.
	ApplySupplierPayment(ctx context.Context, payment domain.SupplierPayment) (*domain.SupplierInvoice, error)

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpensesByDateRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error)

	GetSettings(ctx context.Context) (*domain.Settings, error)
	UpdateSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
