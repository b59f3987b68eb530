package domain

import "time"

type BaseUnit string

const (
	BaseUnitGram  BaseUnit = "g"
	BaseUnitPiece BaseUnit = "pcs"
)

type SaleUnit string

const (
	SaleUnitKilogram SaleUnit = "kg"
	SaleUnitGram     SaleUnit = "g"
	SaleUnitHecto    SaleUnit = "100g"
	SaleUnitPiece    SaleUnit = "pcs"
	SaleUnitPack     SaleUnit = "pack"
)

type TaxMode string

const (
	TaxModeNone      TaxMode = "none"
	TaxModeInclusive TaxMode = "inclusive"
	TaxModeExclusive TaxMode = "exclusive"
)

type Role string

const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleCashier Role = "cashier"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentWallet PaymentMethod = "wallet"
	PaymentBank   PaymentMethod = "bank"
)

// PackBOM describes a pack-style sale unit as a fixed multiple of the
// product's base unit (e.g. one pack = 6 pieces).
type PackBOM struct {
	PieceSKU string  `json:"piece_sku"`
	Count    float64 `json:"count"`
}

type Product struct {
	ID               string     `json:"id"`
	SKU              string     `json:"sku"`
	NameEN           string     `json:"name_en"`
	NameSI           string     `json:"name_si,omitempty"`
	NameTA           string     `json:"name_ta,omitempty"`
	Category         string     `json:"category,omitempty"`
	BaseUnit         BaseUnit   `json:"base_unit"`
	DefaultSaleUnit  SaleUnit   `json:"default_sale_unit"`
	AllowedSaleUnits []SaleUnit `json:"allowed_sale_units"`
	PriceBase        float64    `json:"price_base"`
	Barcodes         []string   `json:"barcodes"`
	RequiresExpiry   bool       `json:"requires_expiry"`
	PackBOM          *PackBOM   `json:"pack_bom,omitempty"`
	MinStock         float64    `json:"min_stock,omitempty"`
	Archived         bool       `json:"archived,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type ProductCreateRequest struct {
	SKU              string     `json:"sku"`
	NameEN           string     `json:"name_en"`
	NameSI           string     `json:"name_si,omitempty"`
	NameTA           string     `json:"name_ta,omitempty"`
	Category         string     `json:"category,omitempty"`
	BaseUnit         BaseUnit   `json:"base_unit"`
	DefaultSaleUnit  SaleUnit   `json:"default_sale_unit"`
	AllowedSaleUnits []SaleUnit `json:"allowed_sale_units"`
	PriceBase        float64    `json:"price_base"`
	Barcodes         []string   `json:"barcodes"`
	RequiresExpiry   bool       `json:"requires_expiry"`
	PackBOM          *PackBOM   `json:"pack_bom,omitempty"`
	MinStock         float64    `json:"min_stock,omitempty"`
}

type ProductUpdateRequest struct {
	NameEN           *string     `json:"name_en,omitempty"`
	NameSI           *string     `json:"name_si,omitempty"`
	NameTA           *string     `json:"name_ta,omitempty"`
	Category         *string     `json:"category,omitempty"`
	DefaultSaleUnit  *SaleUnit   `json:"default_sale_unit,omitempty"`
	AllowedSaleUnits *[]SaleUnit `json:"allowed_sale_units,omitempty"`
	PriceBase        *float64    `json:"price_base,omitempty"`
	Barcodes         *[]string   `json:"barcodes,omitempty"`
	MinStock         *float64    `json:"min_stock,omitempty"`
	Archived         *bool       `json:"archived,omitempty"`
}

// Batch is one physical lot of stock for a product. Quantities are always
// in the product's base unit.
type Batch struct {
	ID        string     `json:"id"`
	ProductID string     `json:"product_id"`
	Lot       string     `json:"lot,omitempty"`
	Expiry    *time.Time `json:"expiry,omitempty"`
	UnitCost  float64    `json:"unit_cost"`
	OnHand    float64    `json:"on_hand"`
	Reserved  float64    `json:"reserved"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Available returns the quantity a sale may draw from.
func (b Batch) Available() float64 {
	return b.OnHand - b.Reserved
}

type BatchReceiveRequest struct {
	ProductID string  `json:"product_id"`
	Lot       string  `json:"lot,omitempty"`
	Expiry    string  `json:"expiry,omitempty"`
	UnitCost  float64 `json:"unit_cost"`
	Qty       float64 `json:"qty"`
}

// EvaluatedBatch is a read-only expiry view of a Batch. DaysToExpiry is nil
// when the batch has no expiry date.
type EvaluatedBatch struct {
	Batch
	IsExpired    bool `json:"is_expired"`
	IsNearExpiry bool `json:"is_near_expiry"`
	DaysToExpiry *int `json:"days_to_expiry,omitempty"`
}

// CartLine is one working line of an in-progress sale as submitted by the
// register. Unit price and markdown are recomputed server-side; discounts are
// cashier input. Zero discount fields mean no discount.
type CartLine struct {
	ProductID      string   `json:"product_id"`
	BatchID        string   `json:"batch_id"`
	Qty            float64  `json:"qty"`
	SaleUnit       SaleUnit `json:"sale_unit"`
	DiscountPct    float64  `json:"discount_pct,omitempty"`
	DiscountAmt    float64  `json:"discount_lkr,omitempty"`
	OverrideReason string   `json:"override_reason,omitempty"`
}

// PricedLine is a CartLine resolved against the catalog: unit price for the
// chosen sale unit plus the automatic near-expiry markdown for its batch.
type PricedLine struct {
	ProductID   string   `json:"product_id"`
	BatchID     string   `json:"batch_id"`
	Qty         float64  `json:"qty"`
	SaleUnit    SaleUnit `json:"sale_unit"`
	UnitPrice   float64  `json:"price_unit"`
	DiscountPct float64  `json:"discount_pct,omitempty"`
	DiscountAmt float64  `json:"discount_lkr,omitempty"`
	MarkdownPct float64  `json:"markdown_pct,omitempty"`
	COGSBase    float64  `json:"cogs_base"`
}

type BillDiscountType string

const (
	BillDiscountPercent BillDiscountType = "percent"
	BillDiscountAmount  BillDiscountType = "amount"
)

type BillDiscount struct {
	Type  BillDiscountType `json:"type"`
	Value float64          `json:"value"`
}

type BillTotals struct {
	Subtotal      float64 `json:"subtotal"`
	DiscountTotal float64 `json:"discount_total"`
	MarkdownTotal float64 `json:"markdown_total"`
	VATTotal      float64 `json:"vat_total"`
	Rounding      float64 `json:"rounding"`
	Total         float64 `json:"total"`
}

type SaleLine struct {
	ProductID   string   `json:"product_id"`
	BatchID     string   `json:"batch_id"`
	Qty         float64  `json:"qty"`
	SaleUnit    SaleUnit `json:"sale_unit"`
	UnitPrice   float64  `json:"price_unit"`
	DiscountPct float64  `json:"discount_pct,omitempty"`
	DiscountAmt float64  `json:"discount_lkr,omitempty"`
	MarkdownPct float64  `json:"markdown_pct,omitempty"`
	COGSBase    float64  `json:"cogs_base"`
}

type Payment struct {
	Method PaymentMethod `json:"type"`
	Amount float64       `json:"amount"`
	Ref    string        `json:"ref,omitempty"`
}

// Sale is the immutable unit of record for a completed transaction.
type Sale struct {
	ID            string     `json:"id"`
	BillNo        string     `json:"bill_no"`
	SaleClientID  string     `json:"sale_client_id"`
	SaleAt        time.Time  `json:"sale_at"`
	CashierRole   Role       `json:"cashier_role"`
	TaxMode       TaxMode    `json:"tax_mode"`
	TaxRate       float64    `json:"tax_rate"`
	Subtotal      float64    `json:"subtotal"`
	DiscountTotal float64    `json:"discount_total"`
	MarkdownTotal float64    `json:"markdown_total"`
	VATTotal      float64    `json:"vat_total"`
	Rounding      float64    `json:"rounding"`
	Total         float64    `json:"total"`
	Payments      []Payment  `json:"payments"`
	Lines         []SaleLine `json:"lines"`
}

// Change is the excess tendered over the sale total. Computed, never stored.
func (s Sale) Change() float64 {
	paid := 0.0
	for _, p := range s.Payments {
		paid += p.Amount
	}
	if paid <= s.Total {
		return 0
	}
	return paid - s.Total
}

type CheckoutRequest struct {
	SaleClientID string        `json:"sale_client_id"`
	Lines        []CartLine    `json:"lines"`
	BillDiscount *BillDiscount `json:"bill_discount,omitempty"`
	Payments     []Payment     `json:"payments"`
}

type CheckoutResponse struct {
	Sale      Sale    `json:"sale"`
	Change    float64 `json:"change"`
	Duplicate bool    `json:"duplicate"`
}

type PriceCartRequest struct {
	Lines        []CartLine    `json:"lines"`
	BillDiscount *BillDiscount `json:"bill_discount,omitempty"`
}

type PriceCartResponse struct {
	Lines  []PricedLine `json:"lines"`
	Totals BillTotals   `json:"totals"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	TermsDays int       `json:"terms_days,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Address   string `json:"address,omitempty"`
	TermsDays int    `json:"terms_days,omitempty"`
	Note      string `json:"note,omitempty"`
}

type SupplierInvoice struct {
	ID         string    `json:"id"`
	SupplierID string    `json:"supplier_id"`
	InvoiceNo  string    `json:"invoice_no"`
	Date       time.Time `json:"date"`
	DueDate    time.Time `json:"due_date"`
	Total      float64   `json:"total"`
	Balance    float64   `json:"balance"`
}

type SupplierInvoiceCreateRequest struct {
	SupplierID string  `json:"supplier_id"`
	InvoiceNo  string  `json:"invoice_no"`
	Date       string  `json:"date"`
	DueDate    string  `json:"due_date"`
	Total      float64 `json:"total"`
}

type SupplierPayment struct {
	ID        string        `json:"id"`
	InvoiceID string        `json:"invoice_id"`
	Date      time.Time     `json:"date"`
	Amount    float64       `json:"amount"`
	Method    PaymentMethod `json:"method"`
	Ref       string        `json:"ref,omitempty"`
}

type SupplierPaymentRequest struct {
	InvoiceID string        `json:"invoice_id"`
	Amount    float64       `json:"amount"`
	Method    PaymentMethod `json:"method"`
	Ref       string        `json:"ref,omitempty"`
}

type Expense struct {
	ID       string    `json:"id"`
	Category string    `json:"category"`
	Amount   float64   `json:"amount"`
	Date     time.Time `json:"date"`
	Payee    string    `json:"payee,omitempty"`
	Note     string    `json:"note,omitempty"`
}

type ExpenseCreateRequest struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
	Date     string  `json:"date"`
	Payee    string  `json:"payee,omitempty"`
	Note     string  `json:"note,omitempty"`
}

type DailySummary struct {
	Date          string  `json:"date"`
	SalesCount    int     `json:"sales_count"`
	Gross         float64 `json:"gross"`
	DiscountTotal float64 `json:"discount_total"`
	MarkdownTotal float64 `json:"markdown_total"`
	VATTotal      float64 `json:"vat_total"`
	Total         float64 `json:"total"`
}

type LowStockItem struct {
	ProductID string  `json:"product_id"`
	SKU       string  `json:"sku"`
	NameEN    string  `json:"name_en"`
	Available float64 `json:"available"`
	MinStock  float64 `json:"min_stock"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        Role   `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     Role
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      Role
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     Role      `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// TaxSettings mirrors the persisted register configuration. Rounding is the
// cash-rounding step applied to the grand total; zero disables rounding.
type TaxSettings struct {
	Enabled  bool    `json:"enabled"`
	Rate     float64 `json:"rate"`
	Mode     TaxMode `json:"mode"`
	Rounding float64 `json:"rounding"`
}

// UnitSteps are the minimum quantity increments per sale unit family.
type UnitSteps struct {
	KgStep  float64 `json:"kg_step"`
	GStep   float64 `json:"g_step"`
	PcsStep float64 `json:"pcs_step"`
}

type Settings struct {
	Taxes TaxSettings `json:"taxes"`
	Units UnitSteps   `json:"units_default"`
}
