package migrate

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/otoedi/o3mig/internal/schema"
)

// Mode selects the error policy of a run.
type Mode string

const (
	// ModeStrict rolls back the current relation and terminates the run on
	// the first error.
	ModeStrict Mode = "strict"
	// ModeLenient rolls back only the innermost unit of work (a document or
	// a detail line), records the skip, and continues.
	ModeLenient Mode = "lenient"
)

// ParseMode validates a mode flag value.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStrict, ModeLenient:
		return Mode(s), nil
	default:
		return "", errors.Errorf("unknown mode %q (want strict or lenient)", s)
	}
}

// Registry kinds for order lines, split by the legacy detail table the line
// came from: forecast and schedule detail ids live in different tables and
// may collide numerically.
const (
	KindForecastLine Kind = "forecast_order_line"
	KindScheduleLine Kind = "schedule_order_line"
)

// Summary is the machine-readable result of one run.
type Summary struct {
	Code              string `json:"code"`
	Mode              string `json:"mode"`
	Relations         int    `json:"relations"`
	Documents         int    `json:"documents"`
	Orders            int    `json:"orders"`
	OrderLines        int    `json:"order_lines"`
	Despatches        int    `json:"despatches"`
	DespatchProducts  int    `json:"despatch_products"`
	CumulativeUpdates int    `json:"cumulative_updates"`
	SkippedRelations  int    `json:"skipped_relations"`
	SkippedDocuments  int    `json:"skipped_documents"`
	SkippedLines      int    `json:"skipped_lines"`
	CumulativeMisses  int    `json:"cumulative_misses"`
}

// Migrator walks the legacy graph for one EDI code and writes the v3
// equivalent. The traversal order is fixed: parties, relation, then per
// document its branch-specific children, then cumulative counters. Parents
// always precede children so the registry can resolve every foreign key.
type Migrator struct {
	source SourceStore
	target TargetStore
	log    *logrus.Logger
	mode   Mode
	now    func() time.Time
}

func New(source SourceStore, target TargetStore, log *logrus.Logger, mode Mode) *Migrator {
	return &Migrator{
		source: source,
		target: target,
		log:    log,
		mode:   mode,
		now:    time.Now,
	}
}

// Run migrates everything reachable from the given EDI code. Each relation
// gets its own target transaction; in strict mode the first error aborts the
// run with the failing relation rolled back, in lenient mode failed units are
// skipped and counted.
func (m *Migrator) Run(ctx context.Context, ediCode string) (*Summary, error) {
	sum := &Summary{Code: ediCode, Mode: string(m.mode)}
	reg := NewRegistry()

	rels, err := m.source.Relations(ctx, ediCode)
	if err != nil {
		return sum, errors.Wrap(err, "list relations")
	}
	if len(rels) == 0 {
		m.log.WithField("code", ediCode).Warn("no trading relations found, nothing to migrate")
		return sum, nil
	}

	for _, rel := range rels {
		relLog := m.log.WithFields(logrus.Fields{
			"sender":   rel.SenderCode,
			"receiver": rel.ReceiverCode,
			"type":     rel.DocTypeID,
		})

		pp, err := relationParties(rel)
		if err != nil {
			relLog.WithError(err).Warn("skipping relation with unrecognized document type")
			sum.SkippedRelations++
			continue
		}

		tx, err := m.target.Begin(ctx)
		if err != nil {
			return sum, errors.Wrap(err, "begin target transaction")
		}
		staged := NewRegistry()
		if err := m.migrateRelation(ctx, tx, rel, pp, staged, reg, sum, relLog); err != nil {
			_ = tx.Rollback(ctx)
			if m.mode == ModeStrict {
				return sum, errors.Wrapf(err, "relation %s->%s", rel.SenderCode, rel.ReceiverCode)
			}
			relLog.WithError(err).Error("relation rolled back, continuing")
			sum.SkippedRelations++
			continue
		}
		if err := tx.Commit(ctx); err != nil {
			return sum, errors.Wrap(err, "commit relation")
		}
		reg.Merge(staged)
		sum.Relations++
	}
	return sum, nil
}

func (m *Migrator) migrateRelation(ctx context.Context, tx TargetTx, rel schema.Relation, pp parties, staged, reg *Registry, sum *Summary, log *logrus.Entry) error {
	res := NewResolver(tx, m.now())

	buyerID, err := res.Party(ctx, pp.BuyerCode, pp.BuyerName, schema.PartyRoleBuyer)
	if err != nil {
		return errors.Wrap(err, "resolve buyer")
	}
	supplierID, err := res.Party(ctx, pp.SupplierCode, pp.SupplierName, schema.PartyRoleSupplier)
	if err != nil {
		return errors.Wrap(err, "resolve supplier")
	}
	relationID, err := res.Relation(ctx, buyerID, supplierID)
	if err != nil {
		return errors.Wrap(err, "resolve relation")
	}
	pp.BuyerID = buyerID
	pp.SupplierID = supplierID
	staged.Remember(KindParty, pp.BuyerLegacyID, buyerID)
	staged.Remember(KindParty, pp.SupplierLegacyID, supplierID)

	docs, err := m.source.Documents(ctx, rel.SenderID, rel.ReceiverID, rel.DocTypeID)
	if err != nil {
		return errors.Wrap(err, "list documents")
	}
	log.WithField("documents", len(docs)).Info("migrating relation")

	for _, doc := range docs {
		docStaged := NewRegistry()
		err := inUnit(ctx, tx, func(sp TargetTx) error {
			return m.migrateDocument(ctx, sp, doc, relationID, pp, docStaged, reg, sum)
		})
		if err != nil {
			var unknown *UnknownDocumentTypeError
			if errors.As(err, &unknown) {
				log.WithError(err).Warn("skipping document")
				sum.SkippedDocuments++
				continue
			}
			if m.mode == ModeStrict {
				return errors.Wrapf(err, "document %d", doc.ID)
			}
			log.WithError(err).WithField("xdoc", doc.ID).Warn("document rolled back, continuing")
			sum.SkippedDocuments++
			continue
		}
		staged.Merge(docStaged)
		sum.Documents++
	}

	if err := m.refreshCumulatives(ctx, tx, pp, staged, reg, sum, log); err != nil {
		return errors.Wrap(err, "refresh cumulatives")
	}
	return nil
}

// inUnit runs fn inside a nested unit of work. The savepoint is released on
// success and rolled back on failure, so a failed document or line never
// poisons the surrounding transaction.
func inUnit(ctx context.Context, tx TargetTx, fn func(TargetTx) error) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func (m *Migrator) migrateDocument(ctx context.Context, tx TargetTx, x schema.XDoc, relationID int64, pp parties, staged, reg *Registry, sum *Summary) error {
	docID, err := tx.CreateDocument(ctx, buildDocument(x, relationID, pp.BuyerID, pp.SupplierID))
	if err != nil {
		return errors.Wrap(err, "create document")
	}
	staged.Remember(KindDocument, x.ID, docID)

	switch x.TypeID {
	case 1:
		lines, err := m.source.ForecastDetails(ctx, x.ID)
		if err != nil {
			return errors.Wrap(err, "load forecast details")
		}
		return m.migrateForecast(ctx, tx, x, lines, relationID, docID, pp, staged, sum)
	case 2:
		lines, err := m.source.ScheduleDetails(ctx, x.ID)
		if err != nil {
			return errors.Wrap(err, "load schedule details")
		}
		return m.migrateSchedule(ctx, tx, x, lines, relationID, docID, pp, staged, sum)
	case 3:
		lines, err := m.source.DespatchDetails(ctx, x.ID)
		if err != nil {
			return errors.Wrap(err, "load despatch details")
		}
		return m.migrateDespatch(ctx, tx, x, lines, relationID, docID, pp, staged, reg, sum)
	default:
		return &UnknownDocumentTypeError{XDocID: x.ID, Type: x.Type}
	}
}

// seller resolves the optional third party of an order. An empty seller code
// means the supplier sells for itself.
func (m *Migrator) seller(ctx context.Context, res *Resolver, sellerCode string, supplierID int64) (int64, error) {
	if sellerCode == "" {
		return supplierID, nil
	}
	return res.Party(ctx, sellerCode, sellerCode, schema.PartyRoleSeller)
}

func (m *Migrator) migrateForecast(ctx context.Context, tx TargetTx, x schema.XDoc, lines []schema.ForecastDetail, relationID, docID int64, pp parties, staged *Registry, sum *Summary) error {
	if len(lines) == 0 {
		return nil
	}
	res := NewResolver(tx, m.now())
	head := lines[0]

	sellerID, err := m.seller(ctx, res, head.SellerCode, pp.SupplierID)
	if err != nil {
		return errors.Wrap(err, "resolve seller")
	}
	pp.SellerID = sellerID

	order := buildOrderFromForecast(x, head, relationID, pp)
	order.DocumentID = docID
	orderID, err := tx.CreateOrder(ctx, order)
	if err != nil {
		return errors.Wrap(err, "create order")
	}
	staged.Remember(KindOrder, x.ID, orderID)
	sum.Orders++

	for _, line := range lines {
		line := line
		var olID int64
		err := inUnit(ctx, tx, func(sp TargetTx) error {
			var lineErr error
			olID, lineErr = m.migrateForecastLine(ctx, sp, x, line, orderID, pp)
			return lineErr
		})
		if err := m.lineError(err, sum, x.ID, line.ID); err != nil {
			return err
		}
		if err == nil {
			staged.Remember(KindForecastLine, line.ID, olID)
			sum.OrderLines++
		}
	}
	return nil
}

func (m *Migrator) migrateForecastLine(ctx context.Context, tx TargetTx, x schema.XDoc, line schema.ForecastDetail, orderID int64, pp parties) (int64, error) {
	res := NewResolver(tx, m.now())

	consigneeID, err := res.Consignee(ctx, line.DeliveryPointCode, pp.BuyerID)
	if err != nil {
		return 0, errors.Wrap(err, "resolve consignee")
	}
	dockID, err := res.Dock(ctx, line.UnloadingDockCode, pp.BuyerID, consigneeID)
	if err != nil {
		return 0, errors.Wrap(err, "resolve dock")
	}
	ocID, err := res.OrderConsignee(ctx, buildOrderConsigneeFromForecast(line, x, orderID, consigneeID, dockID))
	if err != nil {
		return 0, errors.Wrap(err, "resolve order consignee")
	}
	productID, err := res.Product(ctx, productIdentifier(line.ItemSenderCode, line.ItemReceiverCode), line.ItemDescription, pp.SupplierID)
	if err != nil {
		return 0, errors.Wrap(err, "resolve product")
	}

	olID, err := tx.CreateOrderLine(ctx, buildOrderLineFromForecast(line, x, ocID, orderID, productID))
	if err != nil {
		return 0, errors.Wrap(err, "create order line")
	}

	corrs, err := m.source.CorrelationsByForecastDetail(ctx, line.ID)
	if err != nil {
		return 0, errors.Wrap(err, "load correlations")
	}
	for _, c := range corrs {
		if _, err := tx.CreateCrossReference(ctx, buildCrossRefFromForecast(line, olID, c.DespatchDetailID)); err != nil {
			return 0, errors.Wrap(err, "create cross reference")
		}
	}
	return olID, nil
}

func (m *Migrator) migrateSchedule(ctx context.Context, tx TargetTx, x schema.XDoc, lines []schema.ScheduleDetail, relationID, docID int64, pp parties, staged *Registry, sum *Summary) error {
	if len(lines) == 0 {
		return nil
	}
	res := NewResolver(tx, m.now())
	head := lines[0]

	sellerID, err := m.seller(ctx, res, head.SellerCode, pp.SupplierID)
	if err != nil {
		return errors.Wrap(err, "resolve seller")
	}
	pp.SellerID = sellerID

	order := buildOrderFromSchedule(x, head, relationID, pp)
	order.DocumentID = docID
	orderID, err := tx.CreateOrder(ctx, order)
	if err != nil {
		return errors.Wrap(err, "create order")
	}
	staged.Remember(KindOrder, x.ID, orderID)
	sum.Orders++

	for _, line := range lines {
		line := line
		var olID int64
		err := inUnit(ctx, tx, func(sp TargetTx) error {
			var lineErr error
			olID, lineErr = m.migrateScheduleLine(ctx, sp, x, line, orderID, pp)
			return lineErr
		})
		if err := m.lineError(err, sum, x.ID, line.ID); err != nil {
			return err
		}
		if err == nil {
			staged.Remember(KindScheduleLine, line.ID, olID)
			sum.OrderLines++
		}
	}
	return nil
}

func (m *Migrator) migrateScheduleLine(ctx context.Context, tx TargetTx, x schema.XDoc, line schema.ScheduleDetail, orderID int64, pp parties) (int64, error) {
	res := NewResolver(tx, m.now())

	// Firm schedules identify the delivery point by the head's ship-to
	// code; the buyer itself stands in when that is empty.
	consigneeIdent := firstNonEmpty(line.ShipToCode, pp.BuyerCode)
	consigneeID, err := res.Consignee(ctx, consigneeIdent, pp.BuyerID)
	if err != nil {
		return 0, errors.Wrap(err, "resolve consignee")
	}
	dockID, err := res.Dock(ctx, line.UnloadingDockCode, pp.BuyerID, consigneeID)
	if err != nil {
		return 0, errors.Wrap(err, "resolve dock")
	}
	ocID, err := res.OrderConsignee(ctx, buildOrderConsigneeFromSchedule(line, x, pp.BuyerCode, orderID, consigneeID, dockID))
	if err != nil {
		return 0, errors.Wrap(err, "resolve order consignee")
	}
	productID, err := res.Product(ctx, productIdentifier(line.ItemSenderCode, line.ItemReceiverCode), line.ItemDescription, pp.SupplierID)
	if err != nil {
		return 0, errors.Wrap(err, "resolve product")
	}

	olID, err := tx.CreateOrderLine(ctx, buildOrderLineFromSchedule(line, x, ocID, orderID, productID))
	if err != nil {
		return 0, errors.Wrap(err, "create order line")
	}

	corrs, err := m.source.CorrelationsByScheduleDetail(ctx, line.ID)
	if err != nil {
		return 0, errors.Wrap(err, "load correlations")
	}
	for _, c := range corrs {
		if _, err := tx.CreateCrossReference(ctx, buildCrossRefFromSchedule(line, olID, c.DespatchDetailID)); err != nil {
			return 0, errors.Wrap(err, "create cross reference")
		}
	}
	return olID, nil
}

func (m *Migrator) migrateDespatch(ctx context.Context, tx TargetTx, x schema.XDoc, lines []schema.DespatchDetail, relationID, docID int64, pp parties, staged, reg *Registry, sum *Summary) error {
	if len(lines) == 0 {
		return nil
	}
	res := NewResolver(tx, m.now())
	head := lines[0]

	consigneeIdent := firstNonEmpty(head.ShipToCode, pp.BuyerCode)
	consigneeID, err := res.Consignee(ctx, consigneeIdent, pp.BuyerID)
	if err != nil {
		return errors.Wrap(err, "resolve consignee")
	}
	dockID, err := res.Dock(ctx, consigneeIdent, pp.BuyerID, consigneeID)
	if err != nil {
		return errors.Wrap(err, "resolve dock")
	}

	shipmentID, err := res.Shipment(ctx, buildShipment(head, x, pp.SupplierID))
	if err != nil {
		return errors.Wrap(err, "resolve shipment")
	}
	staged.Remember(KindShipment, x.ID, shipmentID)

	despatchID, err := tx.CreateDespatch(ctx, buildDespatch(head, x, relationID, &shipmentID, consigneeID, dockID, docID))
	if err != nil {
		return errors.Wrap(err, "create despatch")
	}
	staged.Remember(KindDespatch, x.ID, despatchID)
	sum.Despatches++

	for _, line := range lines {
		line := line
		var dpID int64
		err := inUnit(ctx, tx, func(sp TargetTx) error {
			var lineErr error
			dpID, lineErr = m.migrateDespatchLine(ctx, sp, x, line, despatchID, staged, reg)
			return lineErr
		})
		if err := m.lineError(err, sum, x.ID, line.ID); err != nil {
			return err
		}
		if err == nil {
			staged.Remember(KindDespatchProduct, line.ID, dpID)
			sum.DespatchProducts++
		}
	}
	return nil
}

func (m *Migrator) migrateDespatchLine(ctx context.Context, tx TargetTx, x schema.XDoc, line schema.DespatchDetail, despatchID int64, staged, reg *Registry) (int64, error) {
	olID, err := m.resolveDespatchOrderLine(ctx, tx, line.ID, staged, reg)
	if err != nil {
		return 0, err
	}

	productID, _, ok, err := tx.OrderLinePlacement(ctx, olID)
	if err != nil {
		return 0, errors.Wrap(err, "resolve order line placement")
	}
	if !ok {
		// The resolved id names an order line that does not exist on the
		// target, which can only mean a stale cross-reference row.
		return 0, &UnresolvedReferenceError{Kind: KindOrderLine, LegacyID: line.ID}
	}

	dpID, err := tx.CreateDespatchProduct(ctx, buildDespatchProduct(line, x, despatchID, olID, productID))
	if err != nil {
		return 0, errors.Wrap(err, "create despatch product")
	}
	if err := tx.SetCrossRefDespatchProduct(ctx, line.ID, dpID); err != nil {
		return 0, errors.Wrap(err, "link cross reference")
	}

	var packagingID *int64
	if pkgID, ok, err := tx.FirstProductPackagingID(ctx, productID); err != nil {
		return 0, errors.Wrap(err, "load product packaging")
	} else if ok {
		packagingID = &pkgID
	}

	outerID, err := tx.CreateDespatchPackage(ctx, buildDespatchPackage(line, despatchID, olID, packagingID, nil, schema.PackageTierOuter))
	if err != nil {
		return 0, errors.Wrap(err, "create outer package")
	}
	if _, err := tx.CreateDespatchPackage(ctx, buildDespatchPackage(line, despatchID, olID, packagingID, &outerID, schema.PackageTierInner)); err != nil {
		return 0, errors.Wrap(err, "create inner package")
	}
	return dpID, nil
}

// resolveDespatchOrderLine finds the migrated order line a despatch detail
// belongs to: first through a cross-reference row written by the order
// branch, then through the legacy correlation table and the registries,
// current relation first.
func (m *Migrator) resolveDespatchOrderLine(ctx context.Context, tx TargetTx, despatchDetailID int64, staged, reg *Registry) (int64, error) {
	if id, ok, err := tx.CrossRefOrderLine(ctx, despatchDetailID); err != nil {
		return 0, errors.Wrap(err, "cross reference lookup")
	} else if ok {
		return id, nil
	}

	corrs, err := m.source.CorrelationsByDespatchDetail(ctx, despatchDetailID)
	if err != nil {
		return 0, errors.Wrap(err, "load correlations")
	}
	for _, c := range corrs {
		if c.ForecastDetailID > 0 {
			if id, ok := resolveEither(staged, reg, KindForecastLine, c.ForecastDetailID); ok {
				return id, nil
			}
		}
		if c.ScheduleDetailID > 0 {
			if id, ok := resolveEither(staged, reg, KindScheduleLine, c.ScheduleDetailID); ok {
				return id, nil
			}
		}
	}
	return 0, &UnresolvedReferenceError{Kind: KindOrderLine, LegacyID: despatchDetailID}
}

// resolveEither checks the current relation's staged mappings before the
// committed ones from earlier relations.
func resolveEither(staged, reg *Registry, kind Kind, legacyID int64) (int64, bool) {
	if id, ok := staged.Resolve(kind, legacyID); ok {
		return id, ok
	}
	return reg.Resolve(kind, legacyID)
}

// lineError applies the error policy to a failed detail line: fatal in strict
// mode, counted and skipped in lenient mode.
func (m *Migrator) lineError(err error, sum *Summary, xdocID, lineID int64) error {
	if err == nil {
		return nil
	}
	if m.mode == ModeStrict {
		return errors.Wrapf(err, "line %d", lineID)
	}
	m.log.WithError(err).WithFields(logrus.Fields{"xdoc": xdocID, "line": lineID}).Warn("line rolled back, continuing")
	sum.SkippedLines++
	return nil
}

// refreshCumulatives recomputes the dispatched and acknowledged counters for
// the relation's items from the legacy aggregates. Counters are refreshed on
// pre-existing rows only; an aggregate that matches no row is counted as a
// miss, never inserted. The order line for an aggregate is resolved through
// the target's cross-reference table first, which also covers lines migrated
// by earlier runs, then through this run's registries.
func (m *Migrator) refreshCumulatives(ctx context.Context, tx TargetTx, pp parties, staged, reg *Registry, sum *Summary, log *logrus.Entry) error {
	shipped, err := m.source.ShippedCumulatives(ctx, pp.BuyerLegacyID, pp.SupplierLegacyID)
	if err != nil {
		return errors.Wrap(err, "load shipped cumulatives")
	}
	received, err := m.source.ReceivedCumulatives(ctx, pp.BuyerLegacyID, pp.SupplierLegacyID)
	if err != nil {
		return errors.Wrap(err, "load received cumulatives")
	}

	apply := func(aggs []schema.CumulativeAggregate, update func(context.Context, schema.CumulativeUpdate) (int64, error)) error {
		for _, agg := range aggs {
			olID, ok, err := tx.CrossRefOrderLineByScheduleDetail(ctx, agg.ScheduleDetailID)
			if err != nil {
				return errors.Wrap(err, "cross reference lookup")
			}
			if !ok {
				olID, ok = resolveEither(staged, reg, KindScheduleLine, agg.ScheduleDetailID)
			}
			if !ok {
				log.WithField("item", agg.ItemSenderCode).Warn("cumulative aggregate references an unmigrated line")
				sum.CumulativeMisses++
				continue
			}
			productID, consigneeID, ok, err := tx.OrderLinePlacement(ctx, olID)
			if err != nil {
				return errors.Wrap(err, "resolve cumulative placement")
			}
			if !ok {
				sum.CumulativeMisses++
				continue
			}
			n, err := update(ctx, schema.CumulativeUpdate{
				ProductID:   productID,
				PartyID:     pp.SupplierID,
				ConsigneeID: consigneeID,
				Quantity:    agg.Quantity,
			})
			if err != nil {
				return errors.Wrap(err, "update cumulative")
			}
			if n == 0 {
				log.WithField("item", agg.ItemSenderCode).Warn("no cumulative row to refresh")
				sum.CumulativeMisses++
				continue
			}
			sum.CumulativeUpdates += int(n)
		}
		return nil
	}

	if err := apply(shipped, tx.UpdateCumulativeDispatched); err != nil {
		return err
	}
	return apply(received, tx.UpdateCumulativeAcknowledged)
}
