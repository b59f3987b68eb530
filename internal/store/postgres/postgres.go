package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dcmart/backend/internal/domain"
	"dcmart/backend/internal/store"
	"dcmart/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `
	id, sku, name_en, name_si, name_ta, category, base_unit, default_sale_unit,
	allowed_sale_units, price_base, barcodes, requires_expiry, pack_bom,
	min_stock, archived, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	var allowedRaw []byte
	var barcodesRaw []byte
	var packBOMRaw []byte
	err := row.Scan(
		&p.ID, &p.SKU, &p.NameEN, &p.NameSI, &p.NameTA, &p.Category,
		&p.BaseUnit, &p.DefaultSaleUnit, &allowedRaw, &p.PriceBase,
		&barcodesRaw, &p.RequiresExpiry, &packBOMRaw, &p.MinStock,
		&p.Archived, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(allowedRaw, &p.AllowedSaleUnits); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(barcodesRaw, &p.Barcodes); err != nil {
		return nil, err
	}
	if len(packBOMRaw) > 0 {
		var bom domain.PackBOM
		if err := json.Unmarshal(packBOMRaw, &bom); err != nil {
			return nil, err
		}
		p.PackBOM = &bom
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, includeArchived bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1 OR archived = false)
		ORDER BY category, name_en
	`, includeArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.SKU == "" || product.NameEN == "" || product.PriceBase <= 0 {
		return nil, store.ErrInvalidInput
	}

	allowedJSON, err := json.Marshal(product.AllowedSaleUnits)
	if err != nil {
		return nil, err
	}
	barcodesJSON, err := json.Marshal(product.Barcodes)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now(),now())
	`, product.ID, product.SKU, product.NameEN, product.NameSI, product.NameTA,
		product.Category, product.BaseUnit, product.DefaultSaleUnit, allowedJSON,
		product.PriceBase, barcodesJSON, product.RequiresExpiry,
		nullJSON(product.PackBOM), product.MinStock, product.Archived)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	return s.GetProductByID(ctx, product.ID)
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return product, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE sku = $1
	`, sku))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return product, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE archived = false AND barcodes @> $1
		LIMIT 1
	`, jsonArray(barcode)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.NameEN == "" || product.PriceBase <= 0 {
		return nil, store.ErrInvalidInput
	}

	allowedJSON, err := json.Marshal(product.AllowedSaleUnits)
	if err != nil {
		return nil, err
	}
	barcodesJSON, err := json.Marshal(product.Barcodes)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name_en = $2, name_si = $3, name_ta = $4, category = $5,
			default_sale_unit = $6, allowed_sale_units = $7, price_base = $8,
			barcodes = $9, pack_bom = $10, min_stock = $11, archived = $12,
			updated_at = now()
		WHERE id = $1
	`, product.ID, product.NameEN, product.NameSI, product.NameTA, product.Category,
		product.DefaultSaleUnit, allowedJSON, product.PriceBase, barcodesJSON,
		nullJSON(product.PackBOM), product.MinStock, product.Archived)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetProductByID(ctx, product.ID)
}

const batchColumns = `id, product_id, lot, expiry, unit_cost, on_hand, reserved, created_at, updated_at`

func scanBatch(row interface{ Scan(...any) error }) (*domain.Batch, error) {
	var b domain.Batch
	var expiry sql.NullTime
	err := row.Scan(&b.ID, &b.ProductID, &b.Lot, &expiry, &b.UnitCost, &b.OnHand, &b.Reserved, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		e := dateUTC(expiry.Time)
		b.Expiry = &e
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	if batch.ID == "" || batch.ProductID == "" || batch.OnHand < 0 || batch.UnitCost < 0 {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (`+batchColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
	`, batch.ID, batch.ProductID, batch.Lot, nullDate(batch.Expiry), batch.UnitCost, batch.OnHand, batch.Reserved)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	return s.GetBatchByID(ctx, batch.ID)
}

func (s *Store) GetBatchByID(ctx context.Context, id string) (*domain.Batch, error) {
	batch, err := scanBatch(s.db.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return batch, nil
}

func (s *Store) ListBatchesByProduct(ctx context.Context, productID string) ([]domain.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM batches
		WHERE product_id = $1
		ORDER BY expiry ASC NULLS LAST, created_at ASC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, 8)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) ReserveBatchStock(ctx context.Context, batchID string, qty float64) (*domain.Batch, error) {
	if qty <= 0 {
		return nil, store.ErrInvalidInput
	}

	batch, err := scanBatch(s.db.QueryRowContext(ctx, `
		UPDATE batches
		SET reserved = reserved + $2, updated_at = now()
		WHERE id = $1 AND reserved + $2 <= on_hand
		RETURNING `+batchColumns+`
	`, batchID, qty))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The guard rejected the row: either the batch does not exist
			// or the hold would exceed on-hand stock.
			if _, lookupErr := s.GetBatchByID(ctx, batchID); lookupErr != nil {
				return nil, lookupErr
			}
			return nil, store.ErrInsufficientStock
		}
		return nil, err
	}
	return batch, nil
}

func (s *Store) ReleaseBatchStock(ctx context.Context, batchID string, qty float64) (*domain.Batch, error) {
	if qty <= 0 {
		return nil, store.ErrInvalidInput
	}

	batch, err := scanBatch(s.db.QueryRowContext(ctx, `
		UPDATE batches
		SET reserved = GREATEST(reserved - $2, 0), updated_at = now()
		WHERE id = $1
		RETURNING `+batchColumns+`
	`, batchID, qty))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return batch, nil
}

func (s *Store) ConsumeBatchStock(ctx context.Context, batchID string, qty float64) (*domain.Batch, error) {
	if qty <= 0 {
		return nil, store.ErrInvalidInput
	}

	batch, err := scanBatch(s.db.QueryRowContext(ctx, `
		UPDATE batches
		SET on_hand = on_hand - $2, reserved = GREATEST(reserved - $2, 0), updated_at = now()
		WHERE id = $1 AND on_hand >= $2
		RETURNING `+batchColumns+`
	`, batchID, qty))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, lookupErr := s.GetBatchByID(ctx, batchID); lookupErr != nil {
				return nil, lookupErr
			}
			return nil, store.ErrInsufficientStock
		}
		return nil, err
	}
	return batch, nil
}

func (s *Store) NextBillSequence(ctx context.Context, dateKey string) (int, error) {
	if dateKey == "" {
		return 0, store.ErrInvalidInput
	}

	var next int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bill_sequences (date, last_sequence)
		VALUES ($1, 1)
		ON CONFLICT (date)
		DO UPDATE SET last_sequence = bill_sequences.last_sequence + 1
		RETURNING last_sequence
	`, dateKey).Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.BillNo == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	paymentsJSON, err := json.Marshal(sale.Payments)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, bill_no, sale_client_id, sale_at, cashier_role, tax_mode, tax_rate,
			subtotal, discount_total, markdown_total, vat_total, rounding, total, payments
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, sale.ID, sale.BillNo, nullIfEmpty(sale.SaleClientID), sale.SaleAt, sale.CashierRole,
		sale.TaxMode, sale.TaxRate, sale.Subtotal, sale.DiscountTotal, sale.MarkdownTotal,
		sale.VATTotal, sale.Rounding, sale.Total, paymentsJSON)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for _, line := range sale.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (
				sale_id, product_id, batch_id, qty, sale_unit, price_unit,
				discount_pct, discount_lkr, markdown_pct, cogs_base
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, sale.ID, line.ProductID, line.BatchID, line.Qty, line.SaleUnit, line.UnitPrice,
			line.DiscountPct, line.DiscountAmt, line.MarkdownPct, line.COGSBase)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	saved := sale
	return &saved, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, "id", id)
}

func (s *Store) FindSaleByClientID(ctx context.Context, saleClientID string) (*domain.Sale, error) {
	return s.findSale(ctx, "sale_client_id", saleClientID)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.Sale, error) {
	if column != "id" && column != "sale_client_id" {
		return nil, store.ErrInvalidInput
	}

	var sale domain.Sale
	var clientID sql.NullString
	var paymentsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bill_no, sale_client_id, sale_at, cashier_role, tax_mode, tax_rate,
			subtotal, discount_total, markdown_total, vat_total, rounding, total, payments
		FROM sales
		WHERE `+column+` = $1
	`, value).Scan(
		&sale.ID, &sale.BillNo, &clientID, &sale.SaleAt, &sale.CashierRole,
		&sale.TaxMode, &sale.TaxRate, &sale.Subtotal, &sale.DiscountTotal,
		&sale.MarkdownTotal, &sale.VATTotal, &sale.Rounding, &sale.Total, &paymentsRaw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if clientID.Valid {
		sale.SaleClientID = clientID.String
	}
	if err := json.Unmarshal(paymentsRaw, &sale.Payments); err != nil {
		return nil, err
	}
	sale.SaleAt = sale.SaleAt.UTC()

	lines, err := s.loadSaleLines(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Lines = lines

	return &sale, nil
}

func (s *Store) loadSaleLines(ctx context.Context, saleID string) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, batch_id, qty, sale_unit, price_unit,
			discount_pct, discount_lkr, markdown_pct, cogs_base
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ProductID, &line.BatchID, &line.Qty, &line.SaleUnit,
			&line.UnitPrice, &line.DiscountPct, &line.DiscountAmt, &line.MarkdownPct, &line.COGSBase); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) ListSalesByDateRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bill_no, sale_client_id, sale_at, cashier_role, tax_mode, tax_rate,
			subtotal, discount_total, markdown_total, vat_total, rounding, total, payments
		FROM sales
		WHERE sale_at >= $1 AND sale_at < $2
		ORDER BY sale_at ASC, bill_no ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		var sale domain.Sale
		var clientID sql.NullString
		var paymentsRaw []byte
		if err := rows.Scan(
			&sale.ID, &sale.BillNo, &clientID, &sale.SaleAt, &sale.CashierRole,
			&sale.TaxMode, &sale.TaxRate, &sale.Subtotal, &sale.DiscountTotal,
			&sale.MarkdownTotal, &sale.VATTotal, &sale.Rounding, &sale.Total, &paymentsRaw,
		); err != nil {
			return nil, err
		}
		if clientID.Valid {
			sale.SaleClientID = clientID.String
		}
		if err := json.Unmarshal(paymentsRaw, &sale.Payments); err != nil {
			return nil, err
		}
		sale.SaleAt = sale.SaleAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		lines, err := s.loadSaleLines(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Lines = lines
	}

	return sales, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.ID == "" || strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, email, address, terms_days, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, supplier.ID, supplier.Name, supplier.Phone, supplier.Email, supplier.Address,
		supplier.TermsDays, supplier.Note, supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, email, address, terms_days, note, created_at
		FROM suppliers
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		var supplier domain.Supplier
		if err := rows.Scan(&supplier.ID, &supplier.Name, &supplier.Phone, &supplier.Email,
			&supplier.Address, &supplier.TermsDays, &supplier.Note, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		supplier.CreatedAt = supplier.CreatedAt.UTC()
		suppliers = append(suppliers, supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func (s *Store) CreateSupplierInvoice(ctx context.Context, invoice domain.SupplierInvoice) (*domain.SupplierInvoice, error) {
	if invoice.ID == "" || invoice.InvoiceNo == "" || invoice.Total < 0 {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO supplier_invoices (id, supplier_id, invoice_no, date, due_date, total, balance)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, invoice.ID, invoice.SupplierID, invoice.InvoiceNo, invoice.Date, invoice.DueDate,
		invoice.Total, invoice.Balance)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := invoice
	return &created, nil
}

func (s *Store) ListSupplierInvoices(ctx context.Context, supplierID string) ([]domain.SupplierInvoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, supplier_id, invoice_no, date, due_date, total, balance
		FROM supplier_invoices
		WHERE ($1 = '' OR supplier_id = $1)
		ORDER BY due_date ASC, invoice_no ASC
	`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.SupplierInvoice, 0, 16)
	for rows.Next() {
		var invoice domain.SupplierInvoice
		if err := rows.Scan(&invoice.ID, &invoice.SupplierID, &invoice.InvoiceNo,
			&invoice.Date, &invoice.DueDate, &invoice.Total, &invoice.Balance); err != nil {
			return nil, err
		}
		invoice.Date = invoice.Date.UTC()
		invoice.DueDate = invoice.DueDate.UTC()
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) ApplySupplierPayment(ctx context.Context, payment domain.SupplierPayment) (*domain.SupplierInvoice, error) {
	if payment.Amount <= 0 {
		return nil, store.ErrInvalidInput
	}
	if payment.ID == "" {
		payment.ID = xid.New("spay")
	}
	if payment.Date.IsZero() {
		payment.Date = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var invoice domain.SupplierInvoice
	err = tx.QueryRowContext(ctx, `
		SELECT id, supplier_id, invoice_no, date, due_date, total, balance
		FROM supplier_invoices
		WHERE id = $1
		FOR UPDATE
	`, payment.InvoiceID).Scan(&invoice.ID, &invoice.SupplierID, &invoice.InvoiceNo,
		&invoice.Date, &invoice.DueDate, &invoice.Total, &invoice.Balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	invoice.Balance -= payment.Amount
	if invoice.Balance < 0 {
		invoice.Balance = 0
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE supplier_invoices
		SET balance = $2
		WHERE id = $1
	`, invoice.ID, invoice.Balance)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO supplier_payments (id, invoice_id, date, amount, method, ref)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, payment.ID, payment.InvoiceID, payment.Date, payment.Amount, payment.Method, payment.Ref)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	invoice.Date = invoice.Date.UTC()
	invoice.DueDate = invoice.DueDate.UTC()
	return &invoice, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.ID == "" || expense.Category == "" || expense.Amount <= 0 {
		return nil, store.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, category, amount, date, payee, note)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, expense.ID, expense.Category, expense.Amount, expense.Date, expense.Payee, expense.Note)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := expense
	return &created, nil
}

func (s *Store) ListExpensesByDateRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, amount, date, payee, note
		FROM expenses
		WHERE date >= $1 AND date < $2
		ORDER BY date ASC, id ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 16)
	for rows.Next() {
		var expense domain.Expense
		if err := rows.Scan(&expense.ID, &expense.Category, &expense.Amount,
			&expense.Date, &expense.Payee, &expense.Note); err != nil {
			return nil, err
		}
		expense.Date = expense.Date.UTC()
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) GetSettings(ctx context.Context) (*domain.Settings, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload
		FROM settings
		WHERE id = 1
	`).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	var settings domain.Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error) {
	payload, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, payload, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
	`, payload)
	if err != nil {
		return nil, err
	}

	updated := settings
	return &updated, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return dateUTC(*val)
}

func nullJSON(bom *domain.PackBOM) any {
	if bom == nil {
		return nil
	}
	raw, err := json.Marshal(bom)
	if err != nil {
		return nil
	}
	return raw
}

func jsonArray(vals ...string) []byte {
	raw, _ := json.Marshal(vals)
	return raw
}
