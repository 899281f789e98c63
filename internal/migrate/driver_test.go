package migrate

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otoedi/o3mig/internal/schema"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	m, err := ParseMode("strict")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)

	m, err = ParseMode("lenient")
	require.NoError(t, err)
	assert.Equal(t, ModeLenient, m)

	_, err = ParseMode("chaotic")
	require.Error(t, err)
}

// forecastFixture is one order-flow relation with a two-line DELFOR document;
// the first line is correlated to a future despatch detail.
func forecastFixture() (*fakeSource, *fakeDB, *fakeTarget) {
	src := newFakeSource()
	src.relations["BUY01"] = []schema.Relation{{
		DocTypeID: 1,
		SenderID:  100, SenderCode: "BUY01", SenderName: "Buyer Corp",
		ReceiverID: 200, ReceiverCode: "SUP01", ReceiverName: "Supplier Corp",
	}}
	src.documents[[3]int64{100, 200, 1}] = []schema.XDoc{{
		ID:            10,
		TypeID:        1,
		Type:          "DELFOR",
		ReleaseNumber: "R1",
		IssueDate:     schema.NewDate(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)),
		InsertTime:    schema.NewDateTime(time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)),
	}}
	src.forecasts[10] = []schema.ForecastDetail{
		{
			ID:                    301,
			DeliveryPointCode:     "DP1",
			UnloadingDockCode:     "DK1",
			ItemSenderCode:        "ITEM-A",
			ItemDescription:       "widget",
			SchedulingConditionID: 1,
			NetQuantity:           decimal.NewFromInt(10),
			QuantityUnit:          "PCE",
			ReleaseReference:      "SNRF1",
			BuyerCode:             "BUY01",
			SupplierCode:          "SUP01",
		},
		{
			ID:                    302,
			DeliveryPointCode:     "DP1",
			ItemSenderCode:        "ITEM-B",
			SchedulingConditionID: 2,
			NetQuantity:           decimal.NewFromInt(20),
			QuantityUnit:          "PCE",
			ReleaseReference:      "SNRF1",
			BuyerCode:             "BUY01",
			SupplierCode:          "SUP01",
		},
	}
	src.correlations = []schema.Correlation{{DespatchDetailID: 501, ForecastDetailID: 301}}

	db := newFakeDB()
	return src, db, &fakeTarget{db: db}
}

func TestRunMigratesForecastGraph(t *testing.T) {
	t.Parallel()

	src, db, target := forecastFixture()
	m := New(src, target, testLogger(), ModeStrict)

	sum, err := m.Run(context.Background(), "BUY01")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Relations)
	assert.Equal(t, 1, sum.Documents)
	assert.Equal(t, 1, sum.Orders)
	assert.Equal(t, 2, sum.OrderLines)
	assert.Zero(t, sum.SkippedRelations)
	assert.Zero(t, sum.SkippedDocuments)
	assert.Zero(t, sum.SkippedLines)

	assert.Equal(t, 2, db.creates["party"])
	assert.Equal(t, 1, db.creates["party_relation"])
	assert.Equal(t, 1, db.creates["document"])
	assert.Equal(t, 1, db.creates["order"])
	assert.Equal(t, 1, db.creates["consignee"])
	assert.Equal(t, 1, db.creates["dock"])
	assert.Equal(t, 2, db.creates["order_consignee"])
	assert.Equal(t, 2, db.creates["product"])
	assert.Equal(t, 2, db.creates["order_line"])

	// The order number comes from the head's release reference.
	require.Len(t, db.orders, 1)
	for _, o := range db.orders {
		assert.Equal(t, "SNRF1", o.OrderNumber)
		assert.True(t, o.IsConfirmed)
	}

	// The correlated line produced a cross-reference for the despatch branch.
	require.Len(t, db.crossRefs, 1)
	xref := db.crossRefs[0]
	assert.Equal(t, int64(501), xref.DespatchDetailID)
	assert.Equal(t, int64(301), xref.ForecastDetailID)
	assert.NotZero(t, xref.OrderLineID)
}

func TestRerunDeduplicatesReferenceEntitiesOnly(t *testing.T) {
	t.Parallel()

	src, db, target := forecastFixture()
	m := New(src, target, testLogger(), ModeStrict)

	_, err := m.Run(context.Background(), "BUY01")
	require.NoError(t, err)
	_, err = m.Run(context.Background(), "BUY01")
	require.NoError(t, err)

	// Reference entities resolve by natural key and never duplicate;
	// transactional entities are append-only and land twice.
	assert.Equal(t, 2, db.creates["party"])
	assert.Equal(t, 1, db.creates["party_relation"])
	assert.Equal(t, 1, db.creates["consignee"])
	assert.Equal(t, 1, db.creates["dock"])
	assert.Equal(t, 2, db.creates["product"])
	assert.Equal(t, 2, db.creates["document"])
	assert.Equal(t, 2, db.creates["order"])
	assert.Equal(t, 4, db.creates["order_line"])
}

func TestRunStrictAbortsAndRollsBackRelation(t *testing.T) {
	t.Parallel()

	src, db, target := forecastFixture()
	db.failOrderLineIdent = "ITEM-B"
	m := New(src, target, testLogger(), ModeStrict)

	sum, err := m.Run(context.Background(), "BUY01")
	require.Error(t, err)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)

	assert.Zero(t, sum.Relations)

	// Nothing survives the relation rollback, first line included.
	assert.Zero(t, db.creates["party"])
	assert.Zero(t, db.creates["document"])
	assert.Zero(t, db.creates["order_line"])
	assert.Empty(t, db.orderLines)
}

func TestRunLenientSkipsFailedLine(t *testing.T) {
	t.Parallel()

	src, db, target := forecastFixture()
	db.failOrderLineIdent = "ITEM-B"
	m := New(src, target, testLogger(), ModeLenient)

	sum, err := m.Run(context.Background(), "BUY01")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Relations)
	assert.Equal(t, 1, sum.Documents)
	assert.Equal(t, 1, sum.OrderLines)
	assert.Equal(t, 1, sum.SkippedLines)

	// The failed line's side effects rolled back with its savepoint: the
	// second product never stuck.
	assert.Equal(t, 1, db.creates["order_line"])
	assert.Equal(t, 1, db.creates["product"])
	for _, l := range db.orderLines {
		assert.Equal(t, "ITEM-A", l.Identifier)
	}
}

func TestRunLenientSkipsFailedDocument(t *testing.T) {
	t.Parallel()

	src, db, target := forecastFixture()
	db.failDocumentNumber = "R1"
	m := New(src, target, testLogger(), ModeLenient)

	sum, err := m.Run(context.Background(), "BUY01")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Relations)
	assert.Zero(t, sum.Documents)
	assert.Equal(t, 1, sum.SkippedDocuments)
	assert.Zero(t, sum.Orders)
	assert.Empty(t, db.documents)

	// The relation's parties committed even though its only document failed.
	assert.Equal(t, 2, db.creates["party"])
}

func TestRunSkipsUnknownDocumentTypeInStrictMode(t *testing.T) {
	t.Parallel()

	src, db, target := forecastFixture()
	src.documents[[3]int64{100, 200, 1}] = append(src.documents[[3]int64{100, 200, 1}], schema.XDoc{
		ID:            11,
		TypeID:        9,
		Type:          "APERAK",
		ReleaseNumber: "R9",
	})
	m := New(src, target, testLogger(), ModeStrict)

	sum, err := m.Run(context.Background(), "BUY01")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Documents)
	assert.Equal(t, 1, sum.SkippedDocuments)
	// The rejected envelope's document row rolled back with its savepoint.
	assert.Len(t, db.documents, 1)
}

func TestRunSkipsRelationWithUnknownType(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.relations["BUY01"] = []schema.Relation{{DocTypeID: 9, SenderID: 1, ReceiverID: 2}}
	db := newFakeDB()
	m := New(src, &fakeTarget{db: db}, testLogger(), ModeStrict)

	sum, err := m.Run(context.Background(), "BUY01")
	require.NoError(t, err)
	assert.Zero(t, sum.Relations)
	assert.Equal(t, 1, sum.SkippedRelations)
	assert.Zero(t, db.creates["party"])
}

func TestRunNoRelations(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	db := newFakeDB()
	m := New(src, &fakeTarget{db: db}, testLogger(), ModeStrict)

	sum, err := m.Run(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Zero(t, sum.Relations)
	assert.Zero(t, db.nextID)
}

// despatchFixture is a DELJIT relation followed by the DESADV relation of the
// same trading pair, correlated through the legacy bridge table.
func despatchFixture() (*fakeSource, *fakeDB, *fakeTarget) {
	src := newFakeSource()
	src.relations["BUY01"] = []schema.Relation{
		{
			DocTypeID: 2,
			SenderID:  100, SenderCode: "BUY01", SenderName: "Buyer Corp",
			ReceiverID: 200, ReceiverCode: "SUP01", ReceiverName: "Supplier Corp",
		},
		{
			DocTypeID: 3,
			SenderID:  200, SenderCode: "SUP01", SenderName: "Supplier Corp",
			ReceiverID: 100, ReceiverCode: "BUY01", ReceiverName: "Buyer Corp",
		},
	}
	src.documents[[3]int64{100, 200, 2}] = []schema.XDoc{{
		ID:            20,
		TypeID:        2,
		Type:          "DELJIT",
		ReleaseNumber: "R2",
	}}
	src.schedules[20] = []schema.ScheduleDetail{{
		ID:                    300,
		ShipToCode:            "ST1",
		ItemSenderCode:        "ITEM-A",
		ItemDescription:       "widget",
		SchedulingConditionID: 1,
		Quantity:              decimal.NewFromInt(5),
		QuantityUnit:          "PCE",
		OrderNumber:           "PO-1",
		BuyerCode:             "BUY01",
		SupplierCode:          "SUP01",
	}}
	src.correlations = []schema.Correlation{{DespatchDetailID: 400, ScheduleDetailID: 300}}
	src.documents[[3]int64{200, 100, 3}] = []schema.XDoc{{
		ID:            30,
		TypeID:        3,
		Type:          "DESADV",
		ReleaseNumber: "R3",
	}}
	src.despatches[30] = []schema.DespatchDetail{{
		ID:               400,
		ItemSenderCode:   "ITEM-A",
		DispatchQuantity: decimal.NewFromInt(5),
		ShipmentNumber:   "SHP1",
		ShipToCode:       "ST1",
		DocumentStatus:   8,
	}}

	db := newFakeDB()
	return src, db, &fakeTarget{db: db}
}

func TestRunMigratesDespatchBranch(t *testing.T) {
	t.Parallel()

	src, db, target := despatchFixture()
	m := New(src, target, testLogger(), ModeStrict)

	sum, err := m.Run(context.Background(), "BUY01")
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Relations)
	assert.Equal(t, 1, sum.Orders)
	assert.Equal(t, 1, sum.OrderLines)
	assert.Equal(t, 1, sum.Despatches)
	assert.Equal(t, 1, sum.DespatchProducts)

	// The trading pair resolves to the same two parties from both sides.
	assert.Equal(t, 2, db.creates["party"])
	assert.Equal(t, 1, db.creates["party_relation"])
	assert.Equal(t, 1, db.creates["shipment"])
	assert.Equal(t, 2, db.creates["despatch_package"])

	// The despatch line landed on the order line migrated by the schedule
	// branch, via the cross-reference written there.
	require.Len(t, db.crossRefs, 1)
	orderLineID := db.crossRefs[0].OrderLineID
	require.Len(t, db.despatchProducts, 1)
	for id, dp := range db.despatchProducts {
		assert.Equal(t, orderLineID, dp.OrderLineID)
		assert.Equal(t, id, db.crossRefDP[400], "cross reference links back to the despatch product")
	}

	// Two package tiers, the inner one pointing at the outer.
	var outers, inners int
	for _, pk := range db.despatchPackages {
		switch pk.Tier {
		case schema.PackageTierOuter:
			outers++
			assert.Nil(t, pk.OuterPackageID)
		case schema.PackageTierInner:
			inners++
			require.NotNil(t, pk.OuterPackageID)
		}
	}
	assert.Equal(t, 1, outers)
	assert.Equal(t, 1, inners)

	require.Len(t, db.shipmentRows, 1)
	for _, s := range db.shipmentRows {
		assert.Equal(t, "SHP1", s.TransportIdentifier)
		assert.True(t, s.IsShipped)
	}
}

func TestRunDespatchLineWithoutOrderLine(t *testing.T) {
	t.Parallel()

	src, db, target := despatchFixture()
	src.despatches[30] = append(src.despatches[30], schema.DespatchDetail{
		ID:               700,
		ItemSenderCode:   "ITEM-Z",
		DispatchQuantity: decimal.NewFromInt(1),
		ShipmentNumber:   "SHP1",
		ShipToCode:       "ST1",
	})

	m := New(src, target, testLogger(), ModeLenient)
	sum, err := m.Run(context.Background(), "BUY01")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.DespatchProducts)
	assert.Equal(t, 1, sum.SkippedLines)
	assert.Len(t, db.despatchProducts, 1)

	src2, _, target2 := despatchFixture()
	src2.despatches[30] = append(src2.despatches[30], schema.DespatchDetail{
		ID:               700,
		ItemSenderCode:   "ITEM-Z",
		DispatchQuantity: decimal.NewFromInt(1),
		ShipmentNumber:   "SHP1",
		ShipToCode:       "ST1",
	})
	strict := New(src2, target2, testLogger(), ModeStrict)
	_, err = strict.Run(context.Background(), "BUY01")
	var unresolved *UnresolvedReferenceError
	require.ErrorAs(t, err, &unresolved)
}

func TestResolveDespatchOrderLine(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := newFakeSource()
	src.correlations = []schema.Correlation{
		{DespatchDetailID: 401, ScheduleDetailID: 300},
		{DespatchDetailID: 402, ForecastDetailID: 310},
	}
	db := newFakeDB()
	db.crossRefs = []schema.CrossReference{{OrderLineID: 55, DespatchDetailID: 400}}
	tx := &fakeTx{db: db, snap: db.snapshot()}
	m := New(src, &fakeTarget{db: db}, testLogger(), ModeStrict)

	staged := NewRegistry()
	reg := NewRegistry()
	staged.Remember(KindScheduleLine, 300, 66)
	reg.Remember(KindForecastLine, 310, 77)

	// Cross-reference hit wins.
	id, err := m.resolveDespatchOrderLine(ctx, tx, 400, staged, reg)
	require.NoError(t, err)
	assert.Equal(t, int64(55), id)

	// Fallback through the correlation table and the registries, the
	// current relation's staged mappings included.
	id, err = m.resolveDespatchOrderLine(ctx, tx, 401, staged, reg)
	require.NoError(t, err)
	assert.Equal(t, int64(66), id)

	id, err = m.resolveDespatchOrderLine(ctx, tx, 402, staged, reg)
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)

	// Nothing matches.
	_, err = m.resolveDespatchOrderLine(ctx, tx, 999, staged, reg)
	var unresolved *UnresolvedReferenceError
	require.ErrorAs(t, err, &unresolved)
}

func TestRunLenientDropsRolledBackLineFromRegistry(t *testing.T) {
	t.Parallel()

	// The schedule line creates its order line, then fails on the
	// cross-reference write, so the whole line savepoint rolls back. The
	// despatch branch must treat that line as never migrated instead of
	// handing a rolled-back key to the despatch product.
	src, db, target := despatchFixture()
	db.failCrossRefDetail = 400

	m := New(src, target, testLogger(), ModeLenient)
	sum, err := m.Run(context.Background(), "BUY01")
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Relations)
	assert.Equal(t, 1, sum.Despatches)
	assert.Zero(t, sum.DespatchProducts)
	assert.Equal(t, 2, sum.SkippedLines)
	assert.Empty(t, db.orderLines)
	assert.Empty(t, db.despatchProducts)
	assert.Empty(t, db.despatchPackages)
}

func TestRunDespatchSkipsStaleCrossReference(t *testing.T) {
	t.Parallel()

	// A cross-reference row pointing at an order line that does not exist
	// on the target must not become a despatch product foreign key.
	src, db, target := despatchFixture()
	db.crossRefs = []schema.CrossReference{{OrderLineID: 9999, DespatchDetailID: 400}}

	m := New(src, target, testLogger(), ModeLenient)
	sum, err := m.Run(context.Background(), "BUY01")
	require.NoError(t, err)

	assert.Zero(t, sum.DespatchProducts)
	assert.Equal(t, 1, sum.SkippedLines)
	assert.Empty(t, db.despatchProducts)
	assert.Empty(t, db.despatchPackages)
}

func TestRunLenientRelationRollbackLeavesNoResolvableLines(t *testing.T) {
	t.Parallel()

	// The cumulative refresh fails after the schedule document committed
	// its savepoint, so the whole DELJIT relation rolls back. The DESADV
	// relation that follows must not resolve any of its lines.
	src, db, target := despatchFixture()
	db.failCumulative = true
	src.shipped[[2]int64{100, 200}] = []schema.CumulativeAggregate{{
		ItemSenderCode:   "ITEM-A",
		ScheduleDetailID: 300,
		Quantity:         decimal.NewFromInt(7),
	}}

	m := New(src, target, testLogger(), ModeLenient)
	sum, err := m.Run(context.Background(), "BUY01")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.SkippedRelations)
	assert.Equal(t, 1, sum.SkippedLines)
	assert.Zero(t, sum.DespatchProducts)
	assert.Empty(t, db.orderLines)
	assert.Empty(t, db.despatchProducts)
}

func scheduleOnlyFixture() (*fakeSource, *fakeDB, *fakeTarget) {
	src, db, target := despatchFixture()
	src.relations["BUY01"] = src.relations["BUY01"][:1]
	return src, db, target
}

func TestRunRefreshesCumulatives(t *testing.T) {
	t.Parallel()

	src, db, target := scheduleOnlyFixture()
	db.cumulativeRows = true
	src.shipped[[2]int64{100, 200}] = []schema.CumulativeAggregate{{
		ItemSenderCode:   "ITEM-A",
		ScheduleDetailID: 300,
		Quantity:         decimal.NewFromInt(7),
	}}
	src.received[[2]int64{100, 200}] = []schema.CumulativeAggregate{{
		ItemSenderCode:   "ITEM-A",
		ScheduleDetailID: 300,
		Quantity:         decimal.NewFromInt(6),
	}}

	m := New(src, target, testLogger(), ModeStrict)
	sum, err := m.Run(context.Background(), "BUY01")
	require.NoError(t, err)

	assert.Equal(t, 2, sum.CumulativeUpdates)
	assert.Zero(t, sum.CumulativeMisses)
	require.Len(t, db.cumDispatched, 1)
	assert.True(t, db.cumDispatched[0].Quantity.Equal(decimal.NewFromInt(7)))
	require.Len(t, db.cumAcknowledged, 1)
	assert.True(t, db.cumAcknowledged[0].Quantity.Equal(decimal.NewFromInt(6)))

	// The counter belongs to the supplier side of the pair.
	supplierID, ok := db.parties[partyKeyOf("SUP01", schema.PartyRoleSupplier)]
	require.True(t, ok)
	assert.Equal(t, supplierID, db.cumDispatched[0].PartyID)
}

func TestRunRefreshesCumulativesFromPriorRun(t *testing.T) {
	t.Parallel()

	// The relation's documents were migrated by an earlier run, so this
	// run's registries are empty. The order line must still resolve through
	// the cross-reference rows already on the target.
	src := newFakeSource()
	src.relations["BUY01"] = []schema.Relation{{
		DocTypeID: 2,
		SenderID:  100, SenderCode: "BUY01", SenderName: "Buyer Corp",
		ReceiverID: 200, ReceiverCode: "SUP01", ReceiverName: "Supplier Corp",
	}}
	src.shipped[[2]int64{100, 200}] = []schema.CumulativeAggregate{{
		ItemSenderCode:   "ITEM-A",
		ScheduleDetailID: 300,
		Quantity:         decimal.NewFromInt(7),
	}}

	db := newFakeDB()
	db.cumulativeRows = true
	db.orderConsignees[55] = schema.OrderConsignee{ConsigneeID: 44}
	db.orderLines[77] = schema.OrderLine{OrderConsigneeID: 55, ProductID: 88}
	db.crossRefs = []schema.CrossReference{{OrderLineID: 77, ScheduleDetailID: 300}}

	m := New(src, &fakeTarget{db: db}, testLogger(), ModeStrict)
	sum, err := m.Run(context.Background(), "BUY01")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.CumulativeUpdates)
	assert.Zero(t, sum.CumulativeMisses)
	require.Len(t, db.cumDispatched, 1)
	assert.Equal(t, int64(88), db.cumDispatched[0].ProductID)
	assert.Equal(t, int64(44), db.cumDispatched[0].ConsigneeID)
	assert.True(t, db.cumDispatched[0].Quantity.Equal(decimal.NewFromInt(7)))
}

func TestRunCountsCumulativeMisses(t *testing.T) {
	t.Parallel()

	src, db, target := scheduleOnlyFixture()
	src.shipped[[2]int64{100, 200}] = []schema.CumulativeAggregate{
		// No cumulative row exists in the target for this one.
		{ItemSenderCode: "ITEM-A", ScheduleDetailID: 300, Quantity: decimal.NewFromInt(7)},
		// And this one references a line that was never migrated.
		{ItemSenderCode: "ITEM-X", ScheduleDetailID: 999, Quantity: decimal.NewFromInt(3)},
	}

	m := New(src, target, testLogger(), ModeStrict)
	sum, err := m.Run(context.Background(), "BUY01")
	require.NoError(t, err)

	assert.Zero(t, sum.CumulativeUpdates)
	assert.Equal(t, 2, sum.CumulativeMisses)
	assert.Empty(t, db.cumDispatched)
}
