package migrate

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/otoedi/o3mig/internal/schema"
)

// fakeSource serves canned legacy rows.
type fakeSource struct {
	relations    map[string][]schema.Relation
	documents    map[[3]int64][]schema.XDoc
	forecasts    map[int64][]schema.ForecastDetail
	schedules    map[int64][]schema.ScheduleDetail
	despatches   map[int64][]schema.DespatchDetail
	correlations []schema.Correlation
	shipped      map[[2]int64][]schema.CumulativeAggregate
	received     map[[2]int64][]schema.CumulativeAggregate
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		relations:  map[string][]schema.Relation{},
		documents:  map[[3]int64][]schema.XDoc{},
		forecasts:  map[int64][]schema.ForecastDetail{},
		schedules:  map[int64][]schema.ScheduleDetail{},
		despatches: map[int64][]schema.DespatchDetail{},
		shipped:    map[[2]int64][]schema.CumulativeAggregate{},
		received:   map[[2]int64][]schema.CumulativeAggregate{},
	}
}

func (s *fakeSource) Relations(_ context.Context, ediCode string) ([]schema.Relation, error) {
	return s.relations[ediCode], nil
}

func (s *fakeSource) Documents(_ context.Context, senderID, receiverID, typeID int64) ([]schema.XDoc, error) {
	return s.documents[[3]int64{senderID, receiverID, typeID}], nil
}

func (s *fakeSource) ForecastDetails(_ context.Context, xdocID int64) ([]schema.ForecastDetail, error) {
	return s.forecasts[xdocID], nil
}

func (s *fakeSource) ScheduleDetails(_ context.Context, xdocID int64) ([]schema.ScheduleDetail, error) {
	return s.schedules[xdocID], nil
}

func (s *fakeSource) DespatchDetails(_ context.Context, xdocID int64) ([]schema.DespatchDetail, error) {
	return s.despatches[xdocID], nil
}

func (s *fakeSource) CorrelationsByForecastDetail(_ context.Context, id int64) ([]schema.Correlation, error) {
	out := []schema.Correlation{}
	for _, c := range s.correlations {
		if c.ForecastDetailID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeSource) CorrelationsByScheduleDetail(_ context.Context, id int64) ([]schema.Correlation, error) {
	out := []schema.Correlation{}
	for _, c := range s.correlations {
		if c.ScheduleDetailID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeSource) CorrelationsByDespatchDetail(_ context.Context, id int64) ([]schema.Correlation, error) {
	out := []schema.Correlation{}
	for _, c := range s.correlations {
		if c.DespatchDetailID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeSource) ShippedCumulatives(_ context.Context, buyerID, supplierID int64) ([]schema.CumulativeAggregate, error) {
	return s.shipped[[2]int64{buyerID, supplierID}], nil
}

func (s *fakeSource) ReceivedCumulatives(_ context.Context, buyerID, supplierID int64) ([]schema.CumulativeAggregate, error) {
	return s.received[[2]int64{buyerID, supplierID}], nil
}

var _ SourceStore = (*fakeSource)(nil)

// fakeDB is the shared state behind fakeTarget transactions.
type fakeDB struct {
	nextID int64

	parties          map[string]int64
	partyRows        map[int64]schema.Party
	relations        map[[2]int64]int64
	consignees       map[string]int64
	docks            map[string]int64
	products         map[string]int64
	productRows      map[int64]schema.Product
	shipments        map[string]int64
	shipmentRows     map[int64]schema.Shipment
	documents        map[int64]schema.Document
	orders           map[int64]schema.Order
	orderConsignees  map[int64]schema.OrderConsignee
	orderLines       map[int64]schema.OrderLine
	despatches       map[int64]schema.Despatch
	despatchProducts map[int64]schema.DespatchProduct
	despatchPackages map[int64]schema.DespatchPackage
	crossRefs        []schema.CrossReference
	crossRefDP       map[int64]int64
	packagings       map[int64][]int64

	// cumulativeRows makes the counter updates hit a row; the applied
	// updates are recorded for assertions.
	cumulativeRows  bool
	cumDispatched   []schema.CumulativeUpdate
	cumAcknowledged []schema.CumulativeUpdate

	creates map[string]int

	failOrderLineIdent string
	failDocumentNumber string
	failCrossRefDetail int64
	failCumulative     bool
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		parties:          map[string]int64{},
		partyRows:        map[int64]schema.Party{},
		relations:        map[[2]int64]int64{},
		consignees:       map[string]int64{},
		docks:            map[string]int64{},
		products:         map[string]int64{},
		productRows:      map[int64]schema.Product{},
		shipments:        map[string]int64{},
		shipmentRows:     map[int64]schema.Shipment{},
		documents:        map[int64]schema.Document{},
		orders:           map[int64]schema.Order{},
		orderConsignees:  map[int64]schema.OrderConsignee{},
		orderLines:       map[int64]schema.OrderLine{},
		despatches:       map[int64]schema.Despatch{},
		despatchProducts: map[int64]schema.DespatchProduct{},
		despatchPackages: map[int64]schema.DespatchPackage{},
		crossRefDP:       map[int64]int64{},
		packagings:       map[int64][]int64{},
		creates:          map[string]int{},
	}
}

func (db *fakeDB) id() int64 {
	db.nextID++
	return db.nextID
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (db *fakeDB) snapshot() *fakeDB {
	snap := &fakeDB{
		nextID:             db.nextID,
		parties:            copyMap(db.parties),
		partyRows:          copyMap(db.partyRows),
		relations:          copyMap(db.relations),
		consignees:         copyMap(db.consignees),
		docks:              copyMap(db.docks),
		products:           copyMap(db.products),
		productRows:        copyMap(db.productRows),
		shipments:          copyMap(db.shipments),
		shipmentRows:       copyMap(db.shipmentRows),
		documents:          copyMap(db.documents),
		orders:             copyMap(db.orders),
		orderConsignees:    copyMap(db.orderConsignees),
		orderLines:         copyMap(db.orderLines),
		despatches:         copyMap(db.despatches),
		despatchProducts:   copyMap(db.despatchProducts),
		despatchPackages:   copyMap(db.despatchPackages),
		crossRefs:          append([]schema.CrossReference{}, db.crossRefs...),
		crossRefDP:         copyMap(db.crossRefDP),
		packagings:         copyMap(db.packagings),
		creates:            copyMap(db.creates),
		cumulativeRows:     db.cumulativeRows,
		cumDispatched:      append([]schema.CumulativeUpdate{}, db.cumDispatched...),
		cumAcknowledged:    append([]schema.CumulativeUpdate{}, db.cumAcknowledged...),
		failOrderLineIdent: db.failOrderLineIdent,
		failDocumentNumber: db.failDocumentNumber,
		failCrossRefDetail: db.failCrossRefDetail,
		failCumulative:     db.failCumulative,
	}
	return snap
}

func (db *fakeDB) restore(snap *fakeDB) {
	*db = *snap
}

type fakeTarget struct {
	db *fakeDB
}

func (t *fakeTarget) Begin(_ context.Context) (TargetTx, error) {
	return &fakeTx{db: t.db, snap: t.db.snapshot()}, nil
}

// fakeTx mutates the shared db directly; Rollback restores the snapshot taken
// at Begin, which mirrors savepoint semantics closely enough for the driver.
type fakeTx struct {
	db   *fakeDB
	snap *fakeDB
}

func (t *fakeTx) Begin(_ context.Context) (TargetTx, error) {
	return &fakeTx{db: t.db, snap: t.db.snapshot()}, nil
}

func (t *fakeTx) Commit(_ context.Context) error { return nil }

func (t *fakeTx) Rollback(_ context.Context) error {
	t.db.restore(t.snap)
	return nil
}

func partyKeyOf(code string, role int16) string {
	return fmt.Sprintf("%s|%d", code, role)
}

func scopedKeyOf(identifier string, ownerID int64) string {
	return fmt.Sprintf("%s|%d", identifier, ownerID)
}

func (t *fakeTx) FindPartyID(_ context.Context, ediCode string, role int16) (int64, bool, error) {
	id, ok := t.db.parties[partyKeyOf(ediCode, role)]
	return id, ok, nil
}

func (t *fakeTx) CreateParty(_ context.Context, p schema.Party) (int64, error) {
	id := t.db.id()
	t.db.parties[partyKeyOf(p.EDICode, p.Role)] = id
	t.db.partyRows[id] = p
	t.db.creates["party"]++
	return id, nil
}

func (t *fakeTx) FindRelationID(_ context.Context, buyerID, supplierID int64) (int64, bool, error) {
	id, ok := t.db.relations[[2]int64{buyerID, supplierID}]
	return id, ok, nil
}

func (t *fakeTx) CreateRelation(_ context.Context, r schema.PartyRelation) (int64, error) {
	id := t.db.id()
	t.db.relations[[2]int64{r.BuyerID, r.SupplierID}] = id
	t.db.creates["party_relation"]++
	return id, nil
}

func (t *fakeTx) CreateDocument(_ context.Context, d schema.Document) (int64, error) {
	if t.db.failDocumentNumber != "" && d.Number == t.db.failDocumentNumber {
		return 0, &ConflictError{Entity: "document", Err: errors.New("duplicate number")}
	}
	id := t.db.id()
	t.db.documents[id] = d
	t.db.creates["document"]++
	return id, nil
}

func (t *fakeTx) CreateOrder(_ context.Context, o schema.Order) (int64, error) {
	id := t.db.id()
	t.db.orders[id] = o
	t.db.creates["order"]++
	return id, nil
}

func (t *fakeTx) FindConsigneeID(_ context.Context, identifier string, buyerID int64) (int64, bool, error) {
	id, ok := t.db.consignees[scopedKeyOf(identifier, buyerID)]
	return id, ok, nil
}

func (t *fakeTx) CreateConsignee(_ context.Context, c schema.Consignee) (int64, error) {
	id := t.db.id()
	t.db.consignees[scopedKeyOf(c.Identifier, c.BuyerID)] = id
	t.db.creates["consignee"]++
	return id, nil
}

func (t *fakeTx) FindDockID(_ context.Context, identifier string, buyerID int64) (int64, bool, error) {
	id, ok := t.db.docks[scopedKeyOf(identifier, buyerID)]
	return id, ok, nil
}

func (t *fakeTx) CreateDock(_ context.Context, d schema.Dock) (int64, error) {
	id := t.db.id()
	t.db.docks[scopedKeyOf(d.Identifier, d.BuyerID)] = id
	t.db.creates["dock"]++
	return id, nil
}

func (t *fakeTx) FindOrderConsigneeID(_ context.Context, oc schema.OrderConsignee) (int64, bool, error) {
	for id, row := range t.db.orderConsignees {
		if row.OrderID == oc.OrderID &&
			row.ConsigneeID == oc.ConsigneeID &&
			equalDockID(row.DockID, oc.DockID) &&
			row.ConsigneeIdentifier == oc.ConsigneeIdentifier &&
			row.DockIdentifier == oc.DockIdentifier {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func equalDockID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (t *fakeTx) CreateOrderConsignee(_ context.Context, oc schema.OrderConsignee) (int64, error) {
	id := t.db.id()
	t.db.orderConsignees[id] = oc
	t.db.creates["order_consignee"]++
	return id, nil
}

func (t *fakeTx) FindProductID(_ context.Context, identifier string, supplierID int64) (int64, bool, error) {
	id, ok := t.db.products[scopedKeyOf(identifier, supplierID)]
	return id, ok, nil
}

func (t *fakeTx) CreateProduct(_ context.Context, p schema.Product) (int64, error) {
	id := t.db.id()
	t.db.products[scopedKeyOf(p.Identifier, p.SupplierID)] = id
	t.db.productRows[id] = p
	t.db.creates["product"]++
	return id, nil
}

func (t *fakeTx) FindShipmentID(_ context.Context, transportIdentifier string) (int64, bool, error) {
	id, ok := t.db.shipments[transportIdentifier]
	return id, ok, nil
}

func (t *fakeTx) CreateShipment(_ context.Context, s schema.Shipment) (int64, error) {
	id := t.db.id()
	t.db.shipments[s.TransportIdentifier] = id
	t.db.shipmentRows[id] = s
	t.db.creates["shipment"]++
	return id, nil
}

func (t *fakeTx) CreateOrderLine(_ context.Context, l schema.OrderLine) (int64, error) {
	if t.db.failOrderLineIdent != "" && l.Identifier == t.db.failOrderLineIdent {
		return 0, &ConflictError{Entity: "order_line", Err: errors.New("constraint violation")}
	}
	id := t.db.id()
	t.db.orderLines[id] = l
	t.db.creates["order_line"]++
	return id, nil
}

func (t *fakeTx) CreateDespatch(_ context.Context, d schema.Despatch) (int64, error) {
	id := t.db.id()
	t.db.despatches[id] = d
	t.db.creates["despatch"]++
	return id, nil
}

func (t *fakeTx) CreateDespatchProduct(_ context.Context, p schema.DespatchProduct) (int64, error) {
	id := t.db.id()
	t.db.despatchProducts[id] = p
	t.db.creates["despatch_product"]++
	return id, nil
}

func (t *fakeTx) CreateDespatchPackage(_ context.Context, p schema.DespatchPackage) (int64, error) {
	id := t.db.id()
	t.db.despatchPackages[id] = p
	t.db.creates["despatch_package"]++
	return id, nil
}

func (t *fakeTx) CreateCrossReference(_ context.Context, x schema.CrossReference) (int64, error) {
	if t.db.failCrossRefDetail != 0 && x.DespatchDetailID == t.db.failCrossRefDetail {
		return 0, &ConflictError{Entity: "v2_migration", Err: errors.New("duplicate detail")}
	}
	t.db.crossRefs = append(t.db.crossRefs, x)
	t.db.creates["v2_migration"]++
	return int64(len(t.db.crossRefs)), nil
}

func (t *fakeTx) CrossRefOrderLine(_ context.Context, despatchDetailID int64) (int64, bool, error) {
	for _, x := range t.db.crossRefs {
		if x.DespatchDetailID == despatchDetailID {
			return x.OrderLineID, true, nil
		}
	}
	return 0, false, nil
}

func (t *fakeTx) CrossRefOrderLineByScheduleDetail(_ context.Context, scheduleDetailID int64) (int64, bool, error) {
	for _, x := range t.db.crossRefs {
		if x.ScheduleDetailID == scheduleDetailID {
			return x.OrderLineID, true, nil
		}
	}
	return 0, false, nil
}

func (t *fakeTx) SetCrossRefDespatchProduct(_ context.Context, despatchDetailID, despatchProductID int64) error {
	t.db.crossRefDP[despatchDetailID] = despatchProductID
	return nil
}

func (t *fakeTx) FirstProductPackagingID(_ context.Context, productID int64) (int64, bool, error) {
	ids := t.db.packagings[productID]
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

func (t *fakeTx) OrderLinePlacement(_ context.Context, orderLineID int64) (int64, int64, bool, error) {
	line, ok := t.db.orderLines[orderLineID]
	if !ok {
		return 0, 0, false, nil
	}
	oc, ok := t.db.orderConsignees[line.OrderConsigneeID]
	if !ok {
		return 0, 0, false, nil
	}
	return line.ProductID, oc.ConsigneeID, true, nil
}

func (t *fakeTx) UpdateCumulativeDispatched(_ context.Context, u schema.CumulativeUpdate) (int64, error) {
	if t.db.failCumulative {
		return 0, errors.New("cumulative update rejected")
	}
	if !t.db.cumulativeRows {
		return 0, nil
	}
	t.db.cumDispatched = append(t.db.cumDispatched, u)
	return 1, nil
}

func (t *fakeTx) UpdateCumulativeAcknowledged(_ context.Context, u schema.CumulativeUpdate) (int64, error) {
	if t.db.failCumulative {
		return 0, errors.New("cumulative update rejected")
	}
	if !t.db.cumulativeRows {
		return 0, nil
	}
	t.db.cumAcknowledged = append(t.db.cumAcknowledged, u)
	return 1, nil
}

var _ TargetStore = (*fakeTarget)(nil)
var _ TargetTx = (*fakeTx)(nil)
