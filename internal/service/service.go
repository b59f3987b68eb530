package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"dcmart/backend/internal/billing"
	"dcmart/backend/internal/cache"
	"dcmart/backend/internal/domain"
	"dcmart/backend/internal/store"
	"dcmart/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var (
	ErrForbidden           = errors.New("forbidden")
	ErrExpiredBatch        = errors.New("expired batch requires an override reason")
	ErrInsufficientPayment = errors.New("insufficient payment")
)

// Bill dates, daily reports, and expense ranges all run on store-local time.
// A fixed offset, not the IANA zone: the store has no DST and the register
// must not depend on the host's tzdata.
var colombo = time.FixedZone("Asia/Colombo", 5*3600+30*60)

const dailySummaryTTL = 5 * time.Minute

type Service struct {
	repo    store.Repository
	reports cache.ReportCache
	now     func() time.Time
}

func New(repo store.Repository, reports cache.ReportCache) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	return &Service{
		repo:    repo,
		reports: reports,
		now:     time.Now,
	}
}

func (s *Service) localNow() time.Time {
	return s.now().In(colombo)
}

func requireRole(ctx context.Context, roles ...domain.Role) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", ErrForbidden)
	}
	if slices.Contains(roles, actor.Role) {
		return actor, nil
	}
	return domain.Actor{}, fmt.Errorf("%w: role %s cannot perform this action", ErrForbidden, actor.Role)
}

func (s *Service) settings(ctx context.Context) domain.Settings {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		log.Printf("[service] WARN: settings unavailable, using defaults: %v", err)
		return domain.Settings{Taxes: domain.TaxSettings{Mode: domain.TaxModeNone}}
	}
	return *settings
}

// effectiveTaxMode folds the enabled flag into the mode the calculators see.
func effectiveTaxMode(taxes domain.TaxSettings) domain.TaxMode {
	if !taxes.Enabled || taxes.Mode == "" {
		return domain.TaxModeNone
	}
	return taxes.Mode
}

func (s *Service) ListProducts(ctx context.Context, includeArchived bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeArchived)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// GetProductBySKU looks a product up by its stock-keeping unit. SKUs are
// stored upper-cased, so the lookup folds case the same way CreateProduct does.
func (s *Service) GetProductBySKU(ctx context.Context, sku string) (domain.Product, error) {
	sku = strings.ToUpper(strings.TrimSpace(sku))
	if sku == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	product, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) LookupBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	product, err := s.repo.GetProductByBarcode(ctx, barcode)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.NameEN = strings.TrimSpace(req.NameEN)
	req.Category = strings.TrimSpace(req.Category)

	if req.SKU == "" || req.NameEN == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.PriceBase <= 0 || req.MinStock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.BaseUnit != domain.BaseUnitGram && req.BaseUnit != domain.BaseUnitPiece {
		return domain.Product{}, fmt.Errorf("%w: unknown base unit %q", store.ErrInvalidInput, req.BaseUnit)
	}
	if len(req.AllowedSaleUnits) == 0 {
		req.AllowedSaleUnits = []domain.SaleUnit{req.DefaultSaleUnit}
	}
	if !slices.Contains(req.AllowedSaleUnits, req.DefaultSaleUnit) {
		return domain.Product{}, fmt.Errorf("%w: default sale unit %s not in allowed units", store.ErrInvalidInput, req.DefaultSaleUnit)
	}

	now := s.now().UTC()
	product := domain.Product{
		ID:               xid.New("prod"),
		SKU:              req.SKU,
		NameEN:           req.NameEN,
		NameSI:           strings.TrimSpace(req.NameSI),
		NameTA:           strings.TrimSpace(req.NameTA),
		Category:         req.Category,
		BaseUnit:         req.BaseUnit,
		DefaultSaleUnit:  req.DefaultSaleUnit,
		AllowedSaleUnits: req.AllowedSaleUnits,
		PriceBase:        req.PriceBase,
		Barcodes:         normalizeBarcodes(req.Barcodes),
		RequiresExpiry:   req.RequiresExpiry,
		PackBOM:          req.PackBOM,
		MinStock:         req.MinStock,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := validateSaleUnits(product); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%.2f", created.SKU, created.PriceBase))

	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.NameEN != nil {
		name := strings.TrimSpace(*req.NameEN)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.NameEN = name
	}
	if req.NameSI != nil {
		updated.NameSI = strings.TrimSpace(*req.NameSI)
	}
	if req.NameTA != nil {
		updated.NameTA = strings.TrimSpace(*req.NameTA)
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.PriceBase != nil {
		if *req.PriceBase <= 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.PriceBase = *req.PriceBase
	}
	if req.DefaultSaleUnit != nil {
		updated.DefaultSaleUnit = *req.DefaultSaleUnit
	}
	if req.AllowedSaleUnits != nil {
		if len(*req.AllowedSaleUnits) == 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.AllowedSaleUnits = *req.AllowedSaleUnits
	}
	if req.Barcodes != nil {
		updated.Barcodes = normalizeBarcodes(*req.Barcodes)
	}
	if req.MinStock != nil {
		if *req.MinStock < 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.MinStock = *req.MinStock
	}
	if req.Archived != nil {
		updated.Archived = *req.Archived
	}

	if !slices.Contains(updated.AllowedSaleUnits, updated.DefaultSaleUnit) {
		return domain.Product{}, fmt.Errorf("%w: default sale unit %s not in allowed units", store.ErrInvalidInput, updated.DefaultSaleUnit)
	}
	if err := validateSaleUnits(updated); err != nil {
		return domain.Product{}, err
	}
	updated.UpdatedAt = s.now().UTC()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("sku=%s,price=%.2f,archived=%t", saved.SKU, saved.PriceBase, saved.Archived))

	return *saved, nil
}

// validateSaleUnits rejects sale units that cannot convert to the product's
// base unit, and pack units without a BOM.
func validateSaleUnits(product domain.Product) error {
	for _, unit := range product.AllowedSaleUnits {
		if unit == domain.SaleUnitPack {
			if product.PackBOM == nil || product.PackBOM.Count <= 0 {
				return fmt.Errorf("%w: pack unit requires a pack BOM", store.ErrInvalidInput)
			}
			continue
		}
		if _, err := billing.ToBase(product, 1, unit); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
		}
	}
	return nil
}

func normalizeBarcodes(barcodes []string) []string {
	normalized := make([]string, 0, len(barcodes))
	for _, code := range barcodes {
		code = strings.TrimSpace(code)
		if code == "" || slices.Contains(normalized, code) {
			continue
		}
		normalized = append(normalized, code)
	}
	return normalized
}

func (s *Service) ReceiveBatch(ctx context.Context, req domain.BatchReceiveRequest) (domain.Batch, error) {
	if _, err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return domain.Batch{}, err
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return domain.Batch{}, err
	}
	if req.Qty <= 0 || req.UnitCost < 0 {
		return domain.Batch{}, store.ErrInvalidInput
	}

	var expiry *time.Time
	if strings.TrimSpace(req.Expiry) != "" {
		parsed, err := parseDate(req.Expiry)
		if err != nil {
			return domain.Batch{}, fmt.Errorf("%w: bad expiry date %q", store.ErrInvalidInput, req.Expiry)
		}
		expiry = &parsed
	}
	if product.RequiresExpiry && expiry == nil {
		return domain.Batch{}, fmt.Errorf("%w: product %s requires an expiry date", store.ErrInvalidInput, product.SKU)
	}

	now := s.now().UTC()
	batch := domain.Batch{
		ID:        xid.New("batch"),
		ProductID: product.ID,
		Lot:       strings.TrimSpace(req.Lot),
		Expiry:    expiry,
		UnitCost:  req.UnitCost,
		OnHand:    req.Qty,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.repo.CreateBatch(ctx, batch)
	if err != nil {
		return domain.Batch{}, err
	}

	s.logAudit(ctx, "batch_receive", "batch", created.ID, fmt.Sprintf("product=%s,qty=%.1f,lot=%s", product.SKU, req.Qty, created.Lot))

	return *created, nil
}

// ListBatches returns a product's batches with their expiry classification as
// of the store-local calendar day.
func (s *Service) ListBatches(ctx context.Context, productID string) ([]domain.EvaluatedBatch, error) {
	if _, err := s.repo.GetProductByID(ctx, productID); err != nil {
		return nil, err
	}
	batches, err := s.repo.ListBatchesByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return billing.EvaluateBatches(batches, s.localNow()), nil
}

// pricedCart pairs each priced line with its quantity in base units, which
// the stock-consume step needs after checkout.
type pricedCart struct {
	lines    []domain.PricedLine
	baseQtys []float64
}

func (s *Service) priceLines(ctx context.Context, lines []domain.CartLine, steps domain.UnitSteps) (pricedCart, error) {
	cart := pricedCart{
		lines:    make([]domain.PricedLine, 0, len(lines)),
		baseQtys: make([]float64, 0, len(lines)),
	}
	today := s.localNow()

	for _, line := range lines {
		if line.Qty <= 0 {
			return pricedCart{}, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidInput)
		}

		product, err := s.repo.GetProductByID(ctx, line.ProductID)
		if err != nil {
			return pricedCart{}, err
		}
		if product.Archived {
			return pricedCart{}, fmt.Errorf("%w: product %s is archived", store.ErrInvalidInput, product.SKU)
		}
		if len(product.AllowedSaleUnits) > 0 && !slices.Contains(product.AllowedSaleUnits, line.SaleUnit) {
			return pricedCart{}, fmt.Errorf("%w: sale unit %s not allowed for %s", store.ErrInvalidInput, line.SaleUnit, product.SKU)
		}
		if !billing.ValidateQuantity(line.Qty, line.SaleUnit, steps) {
			return pricedCart{}, fmt.Errorf("%w: quantity %.3f is not a multiple of the %s step", store.ErrInvalidInput, line.Qty, line.SaleUnit)
		}
		if line.DiscountPct < 0 || line.DiscountPct > 100 || line.DiscountAmt < 0 {
			return pricedCart{}, fmt.Errorf("%w: bad line discount", store.ErrInvalidInput)
		}

		qtyBase, err := billing.ToBase(*product, line.Qty, line.SaleUnit)
		if err != nil {
			return pricedCart{}, err
		}

		var batch domain.Batch
		if line.BatchID != "" {
			found, err := s.repo.GetBatchByID(ctx, line.BatchID)
			if err != nil {
				return pricedCart{}, err
			}
			if found.ProductID != product.ID {
				return pricedCart{}, fmt.Errorf("%w: batch %s does not belong to %s", store.ErrInvalidInput, found.ID, product.SKU)
			}
			batch = *found
		} else {
			batches, err := s.repo.ListBatchesByProduct(ctx, product.ID)
			if err != nil {
				return pricedCart{}, err
			}
			batch, err = billing.SelectFEFOBatch(batches, qtyBase, today)
			if err != nil {
				return pricedCart{}, fmt.Errorf("%w: product %s", err, product.SKU)
			}
		}

		evaluated := billing.EvaluateBatch(batch, today)
		if evaluated.IsExpired && strings.TrimSpace(line.OverrideReason) == "" {
			return pricedCart{}, fmt.Errorf("%w: batch %s", ErrExpiredBatch, batch.ID)
		}
		if batch.Available() < qtyBase {
			return pricedCart{}, fmt.Errorf("%w: batch %s has %.1f available, need %.1f", store.ErrInsufficientStock, batch.ID, batch.Available(), qtyBase)
		}

		unitPrice, err := billing.SaleUnitPrice(*product, line.SaleUnit)
		if err != nil {
			return pricedCart{}, err
		}

		cart.lines = append(cart.lines, domain.PricedLine{
			ProductID:   product.ID,
			BatchID:     batch.ID,
			Qty:         line.Qty,
			SaleUnit:    line.SaleUnit,
			UnitPrice:   unitPrice,
			DiscountPct: line.DiscountPct,
			DiscountAmt: line.DiscountAmt,
			MarkdownPct: billing.CalculateMarkdown(evaluated, product.PriceBase),
			COGSBase:    batch.UnitCost,
		})
		cart.baseQtys = append(cart.baseQtys, qtyBase)
	}

	return cart, nil
}

// PriceCart recomputes every line price and the bill totals server-side. The
// register calls it on each cart mutation; nothing is persisted.
func (s *Service) PriceCart(ctx context.Context, req domain.PriceCartRequest) (domain.PriceCartResponse, error) {
	settings := s.settings(ctx)

	cart, err := s.priceLines(ctx, req.Lines, settings.Units)
	if err != nil {
		return domain.PriceCartResponse{}, err
	}

	totals, err := billing.CalculateBill(cart.lines, req.BillDiscount, effectiveTaxMode(settings.Taxes), settings.Taxes.Rate, settings.Taxes.Rounding)
	if err != nil {
		return domain.PriceCartResponse{}, err
	}

	return domain.PriceCartResponse{Lines: cart.lines, Totals: totals}, nil
}

// GenerateBillNumber issues the next bill number for the store-local day.
// Sequence issuance is atomic in the repository, so two concurrent checkouts
// never share a number.
func (s *Service) GenerateBillNumber(ctx context.Context) (string, error) {
	dateKey := s.localNow().Format("20060102")
	seq, err := s.repo.NextBillSequence(ctx, dateKey)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DC-%s-%04d", dateKey, seq), nil
}

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	actor, err := requireRole(ctx, domain.RoleOwner, domain.RoleManager, domain.RoleCashier)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	if len(req.Lines) == 0 {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: empty cart", store.ErrInvalidInput)
	}

	req.SaleClientID = strings.TrimSpace(req.SaleClientID)
	if req.SaleClientID == "" {
		req.SaleClientID = uuid.NewString()
	} else if existing, err := s.repo.FindSaleByClientID(ctx, req.SaleClientID); err == nil {
		return domain.CheckoutResponse{Sale: *existing, Change: existing.Change(), Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.CheckoutResponse{}, err
	}

	payments, err := normalizePayments(req.Payments)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	if len(payments) == 0 {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: at least one payment required", store.ErrInvalidInput)
	}

	settings := s.settings(ctx)
	taxMode := effectiveTaxMode(settings.Taxes)

	cart, err := s.priceLines(ctx, req.Lines, settings.Units)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	totals, err := billing.CalculateBill(cart.lines, req.BillDiscount, taxMode, settings.Taxes.Rate, settings.Taxes.Rounding)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	paid := 0.0
	for _, payment := range payments {
		paid += payment.Amount
	}
	if paid < totals.Total-1e-9 {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: paid %.2f of %.2f", ErrInsufficientPayment, paid, totals.Total)
	}

	// Hold stock on every line so a concurrent checkout cannot oversell a
	// batch between pricing and consumption.
	for i, line := range cart.lines {
		if _, err := s.repo.ReserveBatchStock(ctx, line.BatchID, cart.baseQtys[i]); err != nil {
			s.releaseHolds(ctx, cart, i)
			return domain.CheckoutResponse{}, err
		}
	}

	billNo, err := s.GenerateBillNumber(ctx)
	if err != nil {
		s.releaseHolds(ctx, cart, len(cart.lines))
		return domain.CheckoutResponse{}, err
	}

	sale := domain.Sale{
		ID:            uuid.NewString(),
		BillNo:        billNo,
		SaleClientID:  req.SaleClientID,
		SaleAt:        s.now().UTC(),
		CashierRole:   actor.Role,
		TaxMode:       taxMode,
		TaxRate:       settings.Taxes.Rate,
		Subtotal:      totals.Subtotal,
		DiscountTotal: totals.DiscountTotal,
		MarkdownTotal: totals.MarkdownTotal,
		VATTotal:      totals.VATTotal,
		Rounding:      totals.Rounding,
		Total:         totals.Total,
		Payments:      payments,
		Lines:         toSaleLines(cart.lines),
	}

	saved, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		s.releaseHolds(ctx, cart, len(cart.lines))
		if errors.Is(err, store.ErrConflict) {
			// Lost a race against a retry of the same client id.
			if existing, lookupErr := s.repo.FindSaleByClientID(ctx, req.SaleClientID); lookupErr == nil {
				return domain.CheckoutResponse{Sale: *existing, Change: existing.Change(), Duplicate: true}, nil
			}
		}
		return domain.CheckoutResponse{}, err
	}

	// Stock consumption stays outside the sale write: the sale is the unit
	// of record, and a consume failure must not void it. Consuming drops the
	// hold along with on-hand; a failed line keeps its hold so the stock
	// cannot be resold before reconciliation.
	for i, line := range cart.lines {
		if _, err := s.repo.ConsumeBatchStock(ctx, line.BatchID, cart.baseQtys[i]); err != nil {
			log.Printf("[service] WARN: stock consume failed sale=%s batch=%s qty=%.1f: %v", saved.ID, line.BatchID, cart.baseQtys[i], err)
		}
	}

	s.logAudit(ctx, "sale_checkout", "sale", saved.ID, fmt.Sprintf("bill=%s,total=%.2f,lines=%d", saved.BillNo, saved.Total, len(saved.Lines)))

	return domain.CheckoutResponse{Sale: *saved, Change: saved.Change()}, nil
}

// releaseHolds undoes the stock reservations for the first count cart lines.
func (s *Service) releaseHolds(ctx context.Context, cart pricedCart, count int) {
	for i := 0; i < count; i++ {
		if _, err := s.repo.ReleaseBatchStock(ctx, cart.lines[i].BatchID, cart.baseQtys[i]); err != nil {
			log.Printf("[service] WARN: failed to release batch hold batch=%s qty=%.1f: %v", cart.lines[i].BatchID, cart.baseQtys[i], err)
		}
	}
}

func toSaleLines(lines []domain.PricedLine) []domain.SaleLine {
	saleLines := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		saleLines = append(saleLines, domain.SaleLine{
			ProductID:   line.ProductID,
			BatchID:     line.BatchID,
			Qty:         line.Qty,
			SaleUnit:    line.SaleUnit,
			UnitPrice:   line.UnitPrice,
			DiscountPct: line.DiscountPct,
			DiscountAmt: line.DiscountAmt,
			MarkdownPct: line.MarkdownPct,
			COGSBase:    line.COGSBase,
		})
	}
	return saleLines
}

// normalizePayments validates the tender list. An unknown method or a
// non-positive amount is a domain error naming the offending value, never a
// silently dropped payment.
func normalizePayments(payments []domain.Payment) ([]domain.Payment, error) {
	normalized := make([]domain.Payment, 0, len(payments))
	for _, payment := range payments {
		if !isSupportedPaymentMethod(payment.Method) {
			return nil, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidInput, payment.Method)
		}
		if payment.Amount <= 0 {
			return nil, fmt.Errorf("%w: payment amount %.2f must be positive", store.ErrInvalidInput, payment.Amount)
		}
		payment.Ref = strings.TrimSpace(payment.Ref)
		normalized = append(normalized, payment)
	}
	return normalized, nil
}

func isSupportedPaymentMethod(method domain.PaymentMethod) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentWallet, domain.PaymentBank:
		return true
	default:
		return false
	}
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

// ListSales returns the sales of one store-local calendar day; empty means
// today.
func (s *Service) ListSales(ctx context.Context, date string) ([]domain.Sale, error) {
	day, err := s.resolveLocalDay(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSalesByDateRange(ctx, day.UTC(), day.AddDate(0, 0, 1).UTC())
}

// DailySummary aggregates one store-local calendar day of sales. Cached; a
// cache miss rescans the range.
func (s *Service) DailySummary(ctx context.Context, date string) (domain.DailySummary, error) {
	day, err := s.resolveLocalDay(date)
	if err != nil {
		return domain.DailySummary{}, err
	}
	dateKey := day.Format("2006-01-02")
	cacheKey := "report:daily:" + dateKey

	if cached, hit, err := s.reports.GetDailySummary(ctx, cacheKey); err == nil && hit {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: report cache get failed key=%s: %v", cacheKey, err)
	}

	from := day.UTC()
	to := day.AddDate(0, 0, 1).UTC()
	sales, err := s.repo.ListSalesByDateRange(ctx, from, to)
	if err != nil {
		return domain.DailySummary{}, err
	}

	summary := domain.DailySummary{Date: dateKey}
	for _, sale := range sales {
		summary.SalesCount++
		summary.Gross += sale.Subtotal + sale.DiscountTotal + sale.MarkdownTotal
		summary.DiscountTotal += sale.DiscountTotal
		summary.MarkdownTotal += sale.MarkdownTotal
		summary.VATTotal += sale.VATTotal
		summary.Total += sale.Total
	}

	if err := s.reports.SetDailySummary(ctx, cacheKey, &summary, dailySummaryTTL); err != nil {
		log.Printf("[service] WARN: report cache set failed key=%s: %v", cacheKey, err)
	}

	return summary, nil
}

// resolveLocalDay parses a YYYY-MM-DD date as store-local midnight; empty
// means today.
func (s *Service) resolveLocalDay(date string) (time.Time, error) {
	if strings.TrimSpace(date) == "" {
		local := s.localNow()
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, colombo), nil
	}
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(date), colombo)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", store.ErrInvalidInput, date)
	}
	return day, nil
}

// LowStock lists active products whose total available stock sits below their
// minimum.
func (s *Service) LowStock(ctx context.Context) ([]domain.LowStockItem, error) {
	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return nil, err
	}

	items := make([]domain.LowStockItem, 0, 8)
	for _, product := range products {
		if product.MinStock <= 0 {
			continue
		}
		batches, err := s.repo.ListBatchesByProduct(ctx, product.ID)
		if err != nil {
			return nil, err
		}
		available := 0.0
		for _, batch := range batches {
			available += batch.Available()
		}
		if available < product.MinStock {
			items = append(items, domain.LowStockItem{
				ProductID: product.ID,
				SKU:       product.SKU,
				NameEN:    product.NameEN,
				Available: available,
				MinStock:  product.MinStock,
			})
		}
	}
	return items, nil
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if _, err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return domain.Supplier{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.TermsDays < 0 {
		return domain.Supplier{}, store.ErrInvalidInput
	}

	supplier := domain.Supplier{
		ID:        xid.New("sup"),
		Name:      req.Name,
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		Address:   strings.TrimSpace(req.Address),
		TermsDays: req.TermsDays,
		Note:      strings.TrimSpace(req.Note),
		CreatedAt: s.now().UTC(),
	}

	created, err := s.repo.CreateSupplier(ctx, supplier)
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, "supplier_create", "supplier", created.ID, created.Name)

	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateSupplierInvoice(ctx context.Context, req domain.SupplierInvoiceCreateRequest) (domain.SupplierInvoice, error) {
	if _, err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return domain.SupplierInvoice{}, err
	}

	req.InvoiceNo = strings.TrimSpace(req.InvoiceNo)
	if req.InvoiceNo == "" || req.Total < 0 {
		return domain.SupplierInvoice{}, store.ErrInvalidInput
	}

	date := s.now().UTC()
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := parseDate(req.Date)
		if err != nil {
			return domain.SupplierInvoice{}, fmt.Errorf("%w: bad invoice date %q", store.ErrInvalidInput, req.Date)
		}
		date = parsed
	}

	var dueDate time.Time
	if strings.TrimSpace(req.DueDate) != "" {
		parsed, err := parseDate(req.DueDate)
		if err != nil {
			return domain.SupplierInvoice{}, fmt.Errorf("%w: bad due date %q", store.ErrInvalidInput, req.DueDate)
		}
		dueDate = parsed
	} else {
		// Fall back to the supplier's payment terms.
		termsDays := 0
		suppliers, err := s.repo.ListSuppliers(ctx)
		if err != nil {
			return domain.SupplierInvoice{}, err
		}
		for _, supplier := range suppliers {
			if supplier.ID == req.SupplierID {
				termsDays = supplier.TermsDays
				break
			}
		}
		dueDate = date.AddDate(0, 0, termsDays)
	}

	invoice := domain.SupplierInvoice{
		ID:         xid.New("inv"),
		SupplierID: req.SupplierID,
		InvoiceNo:  req.InvoiceNo,
		Date:       date,
		DueDate:    dueDate,
		Total:      req.Total,
		Balance:    req.Total,
	}

	created, err := s.repo.CreateSupplierInvoice(ctx, invoice)
	if err != nil {
		return domain.SupplierInvoice{}, err
	}

	s.logAudit(ctx, "supplier_invoice_create", "supplier_invoice", created.ID, fmt.Sprintf("no=%s,total=%.2f", created.InvoiceNo, created.Total))

	return *created, nil
}

func (s *Service) ListSupplierInvoices(ctx context.Context, supplierID string) ([]domain.SupplierInvoice, error) {
	return s.repo.ListSupplierInvoices(ctx, supplierID)
}

func (s *Service) PaySupplierInvoice(ctx context.Context, req domain.SupplierPaymentRequest) (domain.SupplierInvoice, error) {
	if _, err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return domain.SupplierInvoice{}, err
	}

	if req.Amount <= 0 || !isSupportedPaymentMethod(req.Method) {
		return domain.SupplierInvoice{}, store.ErrInvalidInput
	}

	payment := domain.SupplierPayment{
		ID:        xid.New("spay"),
		InvoiceID: req.InvoiceID,
		Date:      s.now().UTC(),
		Amount:    req.Amount,
		Method:    req.Method,
		Ref:       strings.TrimSpace(req.Ref),
	}

	invoice, err := s.repo.ApplySupplierPayment(ctx, payment)
	if err != nil {
		return domain.SupplierInvoice{}, err
	}

	s.logAudit(ctx, "supplier_payment", "supplier_invoice", invoice.ID, fmt.Sprintf("amount=%.2f,balance=%.2f", req.Amount, invoice.Balance))

	return *invoice, nil
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	if _, err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return domain.Expense{}, err
	}

	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" || req.Amount <= 0 {
		return domain.Expense{}, store.ErrInvalidInput
	}

	date := s.now().UTC()
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := parseDate(req.Date)
		if err != nil {
			return domain.Expense{}, fmt.Errorf("%w: bad expense date %q", store.ErrInvalidInput, req.Date)
		}
		date = parsed
	}

	expense := domain.Expense{
		ID:       xid.New("exp"),
		Category: req.Category,
		Amount:   req.Amount,
		Date:     date,
		Payee:    strings.TrimSpace(req.Payee),
		Note:     strings.TrimSpace(req.Note),
	}

	created, err := s.repo.CreateExpense(ctx, expense)
	if err != nil {
		return domain.Expense{}, err
	}

	s.logAudit(ctx, "expense_create", "expense", created.ID, fmt.Sprintf("category=%s,amount=%.2f", created.Category, created.Amount))

	return *created, nil
}

// ListExpenses returns expenses for an inclusive store-local date range.
// Empty bounds default to today.
func (s *Service) ListExpenses(ctx context.Context, fromDate string, toDate string) ([]domain.Expense, error) {
	from, err := s.resolveLocalDay(fromDate)
	if err != nil {
		return nil, err
	}
	to, err := s.resolveLocalDay(toDate)
	if err != nil {
		return nil, err
	}
	return s.repo.ListExpensesByDateRange(ctx, from.UTC(), to.AddDate(0, 0, 1).UTC())
}

func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	return *settings, nil
}

func (s *Service) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	if _, err := requireRole(ctx, domain.RoleOwner); err != nil {
		return domain.Settings{}, err
	}

	switch settings.Taxes.Mode {
	case domain.TaxModeNone, domain.TaxModeInclusive, domain.TaxModeExclusive:
	default:
		return domain.Settings{}, fmt.Errorf("%w: unknown tax mode %q", store.ErrInvalidInput, settings.Taxes.Mode)
	}
	if settings.Taxes.Rate < 0 || settings.Taxes.Rate > 100 || settings.Taxes.Rounding < 0 {
		return domain.Settings{}, store.ErrInvalidInput
	}
	if settings.Units.KgStep < 0 || settings.Units.GStep < 0 || settings.Units.PcsStep < 0 {
		return domain.Settings{}, store.ErrInvalidInput
	}

	updated, err := s.repo.UpdateSettings(ctx, settings)
	if err != nil {
		return domain.Settings{}, err
	}

	s.logAudit(ctx, "settings_update", "settings", "settings", fmt.Sprintf("tax_mode=%s,tax_rate=%.1f", updated.Taxes.Mode, updated.Taxes.Rate))

	return *updated, nil
}

// Authenticate verifies a username/password pair against the stored bcrypt
// hash and returns the actor to attach to the session.
func (s *Service) Authenticate(ctx context.Context, username string, password string) (domain.Actor, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return domain.Actor{}, store.ErrInvalidInput
	}

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	for _, user := range users {
		if user.Username != username || !user.Active {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) == nil {
			return domain.Actor{Username: user.Username, Role: user.Role}, nil
		}
		break
	}
	return domain.Actor{}, errors.New("invalid credentials")
}

func (s *Service) CreateUser(ctx context.Context, username string, password string, role domain.Role) error {
	if _, err := requireRole(ctx, domain.RoleOwner); err != nil {
		return err
	}

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || len(password) < 8 {
		return fmt.Errorf("%w: username and a password of at least 8 characters required", store.ErrInvalidInput)
	}
	switch role {
	case domain.RoleOwner, domain.RoleManager, domain.RoleCashier:
	default:
		return fmt.Errorf("%w: unknown role %q", store.ErrInvalidInput, role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if err := s.repo.CreateUser(ctx, domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      role,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}); err != nil {
		return err
	}

	s.logAudit(ctx, "user_create", "user", username, string(role))
	return nil
}

// ChangePassword rotates the authenticated user's own password after
// re-proving the current one.
func (s *Service) ChangePassword(ctx context.Context, currentPassword string, newPassword string) error {
	actor, err := requireRole(ctx, domain.RoleOwner, domain.RoleManager, domain.RoleCashier)
	if err != nil {
		return err
	}
	if len(newPassword) < 8 {
		return fmt.Errorf("%w: new password must be at least 8 characters", store.ErrInvalidInput)
	}
	if _, err := s.Authenticate(ctx, actor.Username, currentPassword); err != nil {
		return fmt.Errorf("%w: current password mismatch", ErrForbidden)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserPassword(ctx, actor.Username, string(hash)); err != nil {
		return err
	}

	s.logAudit(ctx, "user_password_change", "user", actor.Username, "")
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, fromDate string, toDate string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, domain.RoleOwner, domain.RoleManager); err != nil {
		return nil, err
	}

	from, err := s.resolveLocalDay(fromDate)
	if err != nil {
		return nil, err
	}
	to, err := s.resolveLocalDay(toDate)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, from.UTC(), to.AddDate(0, 0, 1).UTC(), limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s: %v", action, err)
	}
}

// parseDate reads a YYYY-MM-DD value as a UTC calendar date.
func parseDate(value string) (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(value))
}
