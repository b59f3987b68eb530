package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"dcmart/backend/internal/domain"
	"dcmart/backend/internal/store"
	"dcmart/backend/internal/xid"
)

type Store struct {
	mu                sync.RWMutex
	productsByID      map[string]domain.Product
	productIDBySKU    map[string]string
	batchesByID       map[string]domain.Batch
	batchIDsByProduct map[string][]string
	billSequences     map[string]int
	salesByID         map[string]*domain.Sale
	salesByClientID   map[string]*domain.Sale
	suppliersByID     map[string]domain.Supplier
	invoicesByID      map[string]domain.SupplierInvoice
	paymentsByInvoice map[string][]domain.SupplierPayment
	expensesByID      map[string]domain.Expense
	settings          domain.Settings
	auditLogs         []domain.AuditLog
	usersByUsername   map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD; unset
// variables fall back to dev defaults with a warning. Production deployments
// use PostgreSQL (DATABASE_URL) and never touch these.
func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     domain.Role
	}{
		{"owner", ownerPwd, domain.RoleOwner},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultSettings() domain.Settings {
	return domain.Settings{
		Taxes: domain.TaxSettings{
			Enabled:  true,
			Rate:     18,
			Mode:     domain.TaxModeInclusive,
			Rounding: 1,
		},
		Units: domain.UnitSteps{KgStep: 0.05, GStep: 1, PcsStep: 1},
	}
}

func New() *Store {
	return &Store{
		productsByID:      make(map[string]domain.Product),
		productIDBySKU:    make(map[string]string),
		batchesByID:       make(map[string]domain.Batch),
		batchIDsByProduct: make(map[string][]string),
		billSequences:     make(map[string]int),
		salesByID:         make(map[string]*domain.Sale),
		salesByClientID:   make(map[string]*domain.Sale),
		suppliersByID:     make(map[string]domain.Supplier),
		invoicesByID:      make(map[string]domain.SupplierInvoice),
		paymentsByInvoice: make(map[string][]domain.SupplierPayment),
		expensesByID:      make(map[string]domain.Expense),
		settings:          defaultSettings(),
		auditLogs:         make([]domain.AuditLog, 0, 128),
		usersByUsername:   seedUsers(),
	}
}

// NewSeeded returns a store preloaded with a small grocery catalog and a
// spread of batches (fresh, near-expiry, expired, undated) for dev mode.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{
			ID: "prod-rice", SKU: "RICE-01", NameEN: "Basmati Rice", NameSI: "බාස්මතී සහල්", Category: "grocery",
			BaseUnit: domain.BaseUnitGram, DefaultSaleUnit: domain.SaleUnitKilogram,
			AllowedSaleUnits: []domain.SaleUnit{domain.SaleUnitKilogram, domain.SaleUnitGram, domain.SaleUnitHecto},
			PriceBase:        0.48, Barcodes: []string{"4791234500011"}, MinStock: 5000,
			CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: "prod-dhal", SKU: "DHAL-01", NameEN: "Red Dhal", NameTA: "சிவப்பு பருப்பு", Category: "grocery",
			BaseUnit: domain.BaseUnitGram, DefaultSaleUnit: domain.SaleUnitKilogram,
			AllowedSaleUnits: []domain.SaleUnit{domain.SaleUnitKilogram, domain.SaleUnitHecto},
			PriceBase:        0.62, Barcodes: []string{"4791234500028"}, MinStock: 3000,
			CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: "prod-milk", SKU: "MILK-01", NameEN: "Fresh Milk 1L", Category: "dairy",
			BaseUnit: domain.BaseUnitPiece, DefaultSaleUnit: domain.SaleUnitPiece,
			AllowedSaleUnits: []domain.SaleUnit{domain.SaleUnitPiece},
			PriceBase:        480, Barcodes: []string{"4791234500035"}, RequiresExpiry: true, MinStock: 12,
			CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: "prod-soap", SKU: "SOAP-01", NameEN: "Bath Soap", Category: "household",
			BaseUnit: domain.BaseUnitPiece, DefaultSaleUnit: domain.SaleUnitPiece,
			AllowedSaleUnits: []domain.SaleUnit{domain.SaleUnitPiece, domain.SaleUnitPack},
			PriceBase:        120, Barcodes: []string{"4791234500042"},
			PackBOM:   &domain.PackBOM{PieceSKU: "SOAP-01", Count: 6},
			CreatedAt: now, UpdatedAt: now,
		},
	}
	for _, p := range products {
		s.productsByID[p.ID] = p
		s.productIDBySKU[p.SKU] = p.ID
	}

	expIn2 := now.AddDate(0, 0, 2)
	expIn20 := now.AddDate(0, 0, 20)
	expPast := now.AddDate(0, 0, -3)
	batches := []domain.Batch{
		{ID: "batch-rice-1", ProductID: "prod-rice", Lot: "R-2401", UnitCost: 0.31, OnHand: 25000, CreatedAt: now.AddDate(0, 0, -14), UpdatedAt: now},
		{ID: "batch-dhal-1", ProductID: "prod-dhal", Lot: "D-2402", UnitCost: 0.40, OnHand: 12000, CreatedAt: now.AddDate(0, 0, -7), UpdatedAt: now},
		{ID: "batch-milk-near", ProductID: "prod-milk", Lot: "M-NEAR", Expiry: &expIn2, UnitCost: 310, OnHand: 18, CreatedAt: now.AddDate(0, 0, -5), UpdatedAt: now},
		{ID: "batch-milk-fresh", ProductID: "prod-milk", Lot: "M-FRESH", Expiry: &expIn20, UnitCost: 305, OnHand: 36, CreatedAt: now.AddDate(0, 0, -1), UpdatedAt: now},
		{ID: "batch-milk-expired", ProductID: "prod-milk", Lot: "M-OLD", Expiry: &expPast, UnitCost: 300, OnHand: 4, CreatedAt: now.AddDate(0, 0, -20), UpdatedAt: now},
		{ID: "batch-soap-1", ProductID: "prod-soap", Lot: "S-2403", UnitCost: 78, OnHand: 90, CreatedAt: now.AddDate(0, 0, -10), UpdatedAt: now},
	}
	for _, b := range batches {
		s.batchesByID[b.ID] = b
		s.batchIDsByProduct[b.ProductID] = append(s.batchIDsByProduct[b.ProductID], b.ID)
	}

	return s
}

func (s *Store) ListProducts(_ context.Context, includeArchived bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if p.Archived && !includeArchived {
			continue
		}
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.NameEN, b.NameEN)
		}
		return strings.Compare(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.SKU == "" || product.NameEN == "" || product.PriceBase <= 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.productIDBySKU[product.SKU]; exists {
		return nil, store.ErrConflict
	}

	s.productsByID[product.ID] = product
	s.productIDBySKU[product.SKU] = product.ID
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	clone := cloneProduct(product)
	return &clone, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.productIDBySKU[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	clone := cloneProduct(s.productsByID[id])
	return &clone, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, product := range s.productsByID {
		if product.Archived {
			continue
		}
		if slices.Contains(product.Barcodes, barcode) {
			clone := cloneProduct(product)
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.productsByID[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.SKU != existing.SKU {
		return nil, store.ErrInvalidInput
	}

	s.productsByID[product.ID] = product
	updated := cloneProduct(product)
	return &updated, nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.Batch) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.ID == "" || batch.ProductID == "" || batch.OnHand < 0 || batch.UnitCost < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.productsByID[batch.ProductID]; !exists {
		return nil, store.ErrNotFound
	}

	s.batchesByID[batch.ID] = batch
	s.batchIDsByProduct[batch.ProductID] = append(s.batchIDsByProduct[batch.ProductID], batch.ID)
	created := cloneBatch(batch)
	return &created, nil
}

func (s *Store) GetBatchByID(_ context.Context, id string) (*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, exists := s.batchesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	clone := cloneBatch(batch)
	return &clone, nil
}

func (s *Store) ListBatchesByProduct(_ context.Context, productID string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.batchIDsByProduct[productID]
	batches := make([]domain.Batch, 0, len(ids))
	for _, id := range ids {
		batches = append(batches, cloneBatch(s.batchesByID[id]))
	}

	slices.SortFunc(batches, compareBatchReceipt)
	return batches, nil
}

func (s *Store) ReserveBatchStock(_ context.Context, batchID string, qty float64) (*domain.Batch, error) {
	if qty <= 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch, exists := s.batchesByID[batchID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if batch.Reserved+qty > batch.OnHand {
		return nil, store.ErrInsufficientStock
	}

	batch.Reserved += qty
	batch.UpdatedAt = time.Now().UTC()
	s.batchesByID[batchID] = batch
	clone := cloneBatch(batch)
	return &clone, nil
}

func (s *Store) ReleaseBatchStock(_ context.Context, batchID string, qty float64) (*domain.Batch, error) {
	if qty <= 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch, exists := s.batchesByID[batchID]
	if !exists {
		return nil, store.ErrNotFound
	}

	batch.Reserved -= qty
	if batch.Reserved < 0 {
		batch.Reserved = 0
	}
	batch.UpdatedAt = time.Now().UTC()
	s.batchesByID[batchID] = batch
	clone := cloneBatch(batch)
	return &clone, nil
}

func (s *Store) ConsumeBatchStock(_ context.Context, batchID string, qty float64) (*domain.Batch, error) {
	if qty <= 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch, exists := s.batchesByID[batchID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if qty > batch.OnHand {
		return nil, store.ErrInsufficientStock
	}

	batch.OnHand -= qty
	batch.Reserved -= qty
	if batch.Reserved < 0 {
		batch.Reserved = 0
	}
	batch.UpdatedAt = time.Now().UTC()
	s.batchesByID[batchID] = batch
	clone := cloneBatch(batch)
	return &clone, nil
}

func (s *Store) NextBillSequence(_ context.Context, dateKey string) (int, error) {
	if dateKey == "" {
		return 0, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.billSequences[dateKey] + 1
	s.billSequences[dateKey] = next
	return next, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" || sale.BillNo == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrConflict
	}
	if sale.SaleClientID != "" {
		if _, exists := s.salesByClientID[sale.SaleClientID]; exists {
			return nil, store.ErrConflict
		}
	}

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	if sale.SaleClientID != "" {
		s.salesByClientID[sale.SaleClientID] = saved
	}
	return cloneSale(saved), nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByClientID(_ context.Context, saleClientID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByClientID[saleClientID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSalesByDateRange(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if sale.SaleAt.Before(from) || !sale.SaleAt.Before(to) {
			continue
		}
		sales = append(sales, *cloneSale(sale))
	}

	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.SaleAt.Before(b.SaleAt) {
			return -1
		}
		if a.SaleAt.After(b.SaleAt) {
			return 1
		}
		return strings.Compare(a.BillNo, b.BillNo)
	})

	return sales, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.ID == "" || supplier.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.suppliersByID[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, supplier := range s.suppliersByID {
		suppliers = append(suppliers, supplier)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return strings.Compare(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) CreateSupplierInvoice(_ context.Context, invoice domain.SupplierInvoice) (*domain.SupplierInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if invoice.ID == "" || invoice.InvoiceNo == "" || invoice.Total < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.suppliersByID[invoice.SupplierID]; !exists {
		return nil, store.ErrNotFound
	}

	s.invoicesByID[invoice.ID] = invoice
	created := invoice
	return &created, nil
}

func (s *Store) ListSupplierInvoices(_ context.Context, supplierID string) ([]domain.SupplierInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoices := make([]domain.SupplierInvoice, 0, 8)
	for _, invoice := range s.invoicesByID {
		if supplierID != "" && invoice.SupplierID != supplierID {
			continue
		}
		invoices = append(invoices, invoice)
	}
	slices.SortFunc(invoices, func(a, b domain.SupplierInvoice) int {
		if a.DueDate.Before(b.DueDate) {
			return -1
		}
		if a.DueDate.After(b.DueDate) {
			return 1
		}
		return strings.Compare(a.InvoiceNo, b.InvoiceNo)
	})
	return invoices, nil
}

func (s *Store) ApplySupplierPayment(_ context.Context, payment domain.SupplierPayment) (*domain.SupplierInvoice, error) {
	if payment.Amount <= 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, exists := s.invoicesByID[payment.InvoiceID]
	if !exists {
		return nil, store.ErrNotFound
	}

	invoice.Balance -= payment.Amount
	if invoice.Balance < 0 {
		invoice.Balance = 0
	}
	s.invoicesByID[payment.InvoiceID] = invoice
	s.paymentsByInvoice[payment.InvoiceID] = append(s.paymentsByInvoice[payment.InvoiceID], payment)

	updated := invoice
	return &updated, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.ID == "" || expense.Category == "" || expense.Amount <= 0 {
		return nil, store.ErrInvalidInput
	}

	s.expensesByID[expense.ID] = expense
	created := expense
	return &created, nil
}

func (s *Store) ListExpensesByDateRange(_ context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.Expense, 0, 16)
	for _, expense := range s.expensesByID {
		if expense.Date.Before(from) || !expense.Date.Before(to) {
			continue
		}
		expenses = append(expenses, expense)
	}
	slices.SortFunc(expenses, func(a, b domain.Expense) int {
		if a.Date.Before(b.Date) {
			return -1
		}
		if a.Date.After(b.Date) {
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	return expenses, nil
}

func (s *Store) GetSettings(_ context.Context) (*domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings := s.settings
	return &settings, nil
}

func (s *Store) UpdateSettings(_ context.Context, settings domain.Settings) (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = settings
	updated := settings
	return &updated, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}

	logs := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
		if len(logs) == limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// compareBatchReceipt orders dated batches before undated, earliest expiry
// first, then oldest receipt. The same ordering the FEFO selector applies.
func compareBatchReceipt(a domain.Batch, b domain.Batch) int {
	if a.Expiry != nil && b.Expiry == nil {
		return -1
	}
	if a.Expiry == nil && b.Expiry != nil {
		return 1
	}
	if a.Expiry != nil && b.Expiry != nil {
		if a.Expiry.Before(*b.Expiry) {
			return -1
		}
		if a.Expiry.After(*b.Expiry) {
			return 1
		}
	}
	if a.CreatedAt.Before(b.CreatedAt) {
		return -1
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}

func cloneProduct(p domain.Product) domain.Product {
	clone := p
	clone.AllowedSaleUnits = slices.Clone(p.AllowedSaleUnits)
	clone.Barcodes = slices.Clone(p.Barcodes)
	if p.PackBOM != nil {
		bom := *p.PackBOM
		clone.PackBOM = &bom
	}
	return clone
}

func cloneBatch(b domain.Batch) domain.Batch {
	clone := b
	if b.Expiry != nil {
		expiry := *b.Expiry
		clone.Expiry = &expiry
	}
	return clone
}

func cloneSale(s *domain.Sale) *domain.Sale {
	clone := *s
	clone.Payments = slices.Clone(s.Payments)
	clone.Lines = slices.Clone(s.Lines)
	return &clone
}
