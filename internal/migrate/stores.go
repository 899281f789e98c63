package migrate

import (
	"context"

	"github.com/otoedi/o3mig/internal/schema"
)

// SourceStore is the read side of the data access gateway: parameterized
// queries against the legacy v2 store. Every method returns a slice, empty
// when nothing matches and never an error for "no rows", so the traversal
// never branches on result cardinality.
type SourceStore interface {
	// Relations returns the trading relationships in which the given EDI
	// code appears on either side, ordered by document type id.
	Relations(ctx context.Context, ediCode string) ([]schema.Relation, error)
	// Documents returns the legacy transactions for one relation, in
	// ascending legacy-ID order.
	Documents(ctx context.Context, senderID, receiverID, typeID int64) ([]schema.XDoc, error)

	ForecastDetails(ctx context.Context, xdocID int64) ([]schema.ForecastDetail, error)
	ScheduleDetails(ctx context.Context, xdocID int64) ([]schema.ScheduleDetail, error)
	DespatchDetails(ctx context.Context, xdocID int64) ([]schema.DespatchDetail, error)

	CorrelationsByForecastDetail(ctx context.Context, forecastDetailID int64) ([]schema.Correlation, error)
	CorrelationsByScheduleDetail(ctx context.Context, scheduleDetailID int64) ([]schema.Correlation, error)
	CorrelationsByDespatchDetail(ctx context.Context, despatchDetailID int64) ([]schema.Correlation, error)

	// ShippedCumulatives aggregates MAX(last shipped cumulative quantity)
	// per item code for schedules between the legacy buyer and supplier,
	// restricted to despatches whose status carries the shipped-confirmed
	// bit.
	ShippedCumulatives(ctx context.Context, buyerID, supplierID int64) ([]schema.CumulativeAggregate, error)
	// ReceivedCumulatives aggregates MAX(last received cumulative quantity)
	// per item code for schedules between the legacy buyer and supplier.
	ReceivedCumulatives(ctx context.Context, buyerID, supplierID int64) ([]schema.CumulativeAggregate, error)
}

// TargetStore opens transactions against the v3 store.
type TargetStore interface {
	Begin(ctx context.Context) (TargetTx, error)
}

// TargetTx is one transactional scope on the target store. Begin opens a
// nested unit of work (a savepoint) with the same contract, which is how the
// traversal confines a failed document or detail line without losing the
// surrounding relation's work.
//
// Find methods resolve natural keys to generated keys and report absence via
// the second return value, never via an error. Create methods return the
// generated key and surface constraint violations as *ConflictError.
type TargetTx interface {
	Begin(ctx context.Context) (TargetTx, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	FindPartyID(ctx context.Context, ediCode string, role int16) (int64, bool, error)
	CreateParty(ctx context.Context, p schema.Party) (int64, error)

	FindRelationID(ctx context.Context, buyerID, supplierID int64) (int64, bool, error)
	CreateRelation(ctx context.Context, r schema.PartyRelation) (int64, error)

	CreateDocument(ctx context.Context, d schema.Document) (int64, error)
	CreateOrder(ctx context.Context, o schema.Order) (int64, error)

	FindConsigneeID(ctx context.Context, identifier string, buyerID int64) (int64, bool, error)
	CreateConsignee(ctx context.Context, c schema.Consignee) (int64, error)

	FindDockID(ctx context.Context, identifier string, buyerID int64) (int64, bool, error)
	CreateDock(ctx context.Context, d schema.Dock) (int64, error)

	FindOrderConsigneeID(ctx context.Context, oc schema.OrderConsignee) (int64, bool, error)
	CreateOrderConsignee(ctx context.Context, oc schema.OrderConsignee) (int64, error)

	FindProductID(ctx context.Context, identifier string, supplierID int64) (int64, bool, error)
	CreateProduct(ctx context.Context, p schema.Product) (int64, error)

	FindShipmentID(ctx context.Context, transportIdentifier string) (int64, bool, error)
	CreateShipment(ctx context.Context, s schema.Shipment) (int64, error)

	CreateOrderLine(ctx context.Context, l schema.OrderLine) (int64, error)
	CreateDespatch(ctx context.Context, d schema.Despatch) (int64, error)
	CreateDespatchProduct(ctx context.Context, p schema.DespatchProduct) (int64, error)
	CreateDespatchPackage(ctx context.Context, p schema.DespatchPackage) (int64, error)

	CreateCrossReference(ctx context.Context, x schema.CrossReference) (int64, error)
	// CrossRefOrderLine returns the order line recorded for a legacy
	// despatch detail id, if a cross-reference row exists.
	CrossRefOrderLine(ctx context.Context, despatchDetailID int64) (int64, bool, error)
	// CrossRefOrderLineByScheduleDetail returns the order line recorded for
	// a legacy schedule detail id, including rows written by earlier runs.
	CrossRefOrderLineByScheduleDetail(ctx context.Context, scheduleDetailID int64) (int64, bool, error)
	SetCrossRefDespatchProduct(ctx context.Context, despatchDetailID, despatchProductID int64) error

	FirstProductPackagingID(ctx context.Context, productID int64) (int64, bool, error)

	// OrderLinePlacement resolves an order line to its (product, consignee)
	// pair through its order consignee.
	OrderLinePlacement(ctx context.Context, orderLineID int64) (productID, consigneeID int64, ok bool, err error)

	// Cumulative updates refresh counters on pre-existing rows and report
	// the number of rows touched; zero is a valid outcome.
	UpdateCumulativeDispatched(ctx context.Context, u schema.CumulativeUpdate) (int64, error)
	UpdateCumulativeAcknowledged(ctx context.Context, u schema.CumulativeUpdate) (int64, error)
}
