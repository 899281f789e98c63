package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Party role codes in the v3 schema.
const (
	PartyRoleBuyer    int16 = 1
	PartyRoleSupplier int16 = 2
	PartyRoleSeller   int16 = 4
)

// Document type ids in the v3 schema: order-flow documents (forecasts and
// firm schedules) versus despatch-flow documents.
const (
	DocTypeOrderFlow    int16 = 1
	DocTypeDespatchFlow int16 = 2
)

// Order consignee provenance tags.
const (
	OrderStatusForecast = "forecast"
	OrderStatusFirm     = "firm"
)

// Party is a v3 trading entity payload.
type Party struct {
	Identifier string
	EDICode    string
	Role       int16
	Name       string
	InsertDate time.Time
}

// PartyRelation is an ordered (buyer, supplier) pair.
type PartyRelation struct {
	BuyerID    int64
	SupplierID int64
}

// Document is the v3 envelope for one migrated legacy transaction.
type Document struct {
	RelationID       int64
	DocTypeID        int16
	Type             string
	Number           string
	ControlReference string
	DateTime         *time.Time
	AdditionalInfo   string
	OriginalFilename string
	InsertDate       *time.Time
}

// Order is a purchase-forecast or firm-schedule header.
type Order struct {
	DocumentID         int64
	RelationID         int64
	OrderNumber        string
	OrderDate          *time.Time
	HorizonStartDate   *time.Time
	HorizonEndDate     *time.Time
	BuyerID            int64
	BuyerIdentifier    string
	SupplierID         int64
	SupplierIdentifier string
	SellerID           int64
	SellerIdentifier   string
	InsertDate         *time.Time
	IsConfirmed        bool
}

// Consignee is a delivery-point reference entity scoped to a buyer.
type Consignee struct {
	BuyerID    int64
	Identifier string
	Name       string
}

// Dock is an unloading-point reference entity owned by a Consignee.
type Dock struct {
	BuyerID     int64
	ConsigneeID int64
	Identifier  string
	Name        string
}

// OrderConsignee binds an Order to a (Consignee, Dock) pair.
type OrderConsignee struct {
	OrderID             int64
	ConsigneeID         int64
	DockID              *int64
	ConsigneeIdentifier string
	DockIdentifier      string
	IsReplaced          bool
	IsCompleted         bool
	Type                string
}

// Product is a supplier-scoped item reference.
type Product struct {
	SupplierID  int64
	Identifier  string
	Description string
}

// OrderLine is one scheduled quantity for an (Order, OrderConsignee, Product)
// triple.
type OrderLine struct {
	OrderConsigneeID   int64
	OrderID            int64
	ProductID          int64
	LineNumber         int64
	ReleaseNumber      int64
	Identifier         string
	Description        string
	BuyerCode          string
	SupplierCode       string
	EarliestDateTime   *time.Time
	LatestDateTime     *time.Time
	LastDespatchTime   *time.Time
	OrderStatus        string
	QuantityOriginal   decimal.Decimal
	QuantityConfirmed  decimal.Decimal
	QuantityShipped    decimal.Decimal
	QuantityUnit       string
	OriginalDelivery   *time.Time
	IsCancelled        bool
	InsertDate         *time.Time
}

// Shipment is a carrier-level transport record, deduplicated by its
// transport identifier.
type Shipment struct {
	PartyID             int64
	IsShipped           bool
	CarrierName         string
	TransportIdentifier string
	DespatchDateTime    *time.Time
	ArrivalDateTime     *time.Time
	ModeOfTransport     string
	IntermediateCode    string
	GrossWeight         decimal.Decimal
	NetWeight           decimal.Decimal
	WeightUnit          string
	ShipmentNumber      string
	FreightPaymentCode  string
	FreightBillDetails  string
	InsertDate          *time.Time
}

// Despatch is a shipment-notice header.
type Despatch struct {
	RelationID         int64
	ShipmentID         *int64
	ConsigneeID        int64
	DockID             *int64
	DocumentID         int64
	IsShipped          bool
	DespatchNumber     string
	BillOfLadingNumber string
	DespatchDate       *time.Time
	ArrivalDate        *time.Time
	GrossWeight        decimal.Decimal
	NetWeight          decimal.Decimal
	WeightUnit         string
	InsertDate         *time.Time
}

// DespatchProduct links a Despatch to an OrderLine and Product with the
// despatched quantity.
type DespatchProduct struct {
	DespatchID       int64
	OrderLineID      int64
	ProductID        int64
	Quantity         decimal.Decimal
	QuantityHandling decimal.Decimal
	QuantityPacking  decimal.Decimal
	QuantityUnit     string
	AdviceNoteNumber string
	InsertDate       *time.Time
}

// Despatch package tiers.
const (
	PackageTierOuter int16 = 1
	PackageTierInner int16 = 2
)

// DespatchPackage is one tier of the packaging breakdown for a despatched
// line. Inner packages reference their outer package's generated key.
type DespatchPackage struct {
	DespatchID         int64
	OrderLineID        int64
	OuterPackageID     *int64
	ProductPackagingID *int64
	Tier               int16
	IsFull             bool
	QuantityPackage    decimal.Decimal
	QuantityPart       decimal.Decimal
	GrossWeight        decimal.Decimal
	NetWeight          decimal.Decimal
	WeightUnit         string
}

// CrossReference correlates a migrated OrderLine with the legacy detail rows
// describing the same business line. Rows outlive the run for later
// reconciliation; they are never cleaned up by this tool.
type CrossReference struct {
	OrderLineID         int64
	DespatchDetailID    int64
	ForecastDetailID    int64
	ScheduleDetailID    int64
	ConsigneeIdentifier string
	DockIdentifier      string
	OriginalDelivery    *time.Time
}

// CumulativeUpdate refreshes one counter of a pre-existing Cumulative row.
// No row is created when none matches; the update is a reported no-op.
type CumulativeUpdate struct {
	ProductID   int64
	PartyID     int64
	ConsigneeID int64
	Quantity    decimal.Decimal
}
