package persistence

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otoedi/o3mig/internal/migrate"
	"github.com/otoedi/o3mig/internal/schema"
)

// PgTarget writes the v3 schema. Transactions map to migrate.TargetTx; a
// nested Begin is a savepoint, which pgx models as a nested transaction.
type PgTarget struct {
	pool *pgxpool.Pool
}

// OpenPool dials a Postgres store and verifies the connection.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping store")
	}
	return pool, nil
}

func OpenPostgres(ctx context.Context, dsn string) (*PgTarget, error) {
	pool, err := OpenPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PgTarget{pool: pool}, nil
}

func NewPgTarget(pool *pgxpool.Pool) *PgTarget {
	return &PgTarget{pool: pool}
}

func (s *PgTarget) Close() {
	s.pool.Close()
}

func (s *PgTarget) Begin(ctx context.Context) (migrate.TargetTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTargetTx{tx: tx}, nil
}

type pgTargetTx struct {
	tx pgx.Tx
}

func (t *pgTargetTx) Begin(ctx context.Context) (migrate.TargetTx, error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTargetTx{tx: sp}, nil
}

func (t *pgTargetTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTargetTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// conflict translates integrity violations (SQLSTATE class 23) into the
// domain error the traversal branches on; everything else passes through.
func conflict(entity string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return &migrate.ConflictError{Entity: entity, Err: err}
	}
	return err
}

// optional absorbs pgx.ErrNoRows into the (value, ok) convention.
func optional(id int64, err error) (int64, bool, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

func (t *pgTargetTx) FindPartyID(ctx context.Context, ediCode string, role int16) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT party_id FROM party WHERE otoedi_code = $1 AND type = $2 LIMIT 1`,
		ediCode, role).Scan(&id)
	return optional(id, err)
}

func (t *pgTargetTx) CreateParty(ctx context.Context, p schema.Party) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO party (identifier, otoedi_code, type, name, insert_date)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING party_id`,
		p.Identifier, p.EDICode, p.Role, p.Name, p.InsertDate).Scan(&id)
	if err != nil {
		return 0, conflict("party", err)
	}
	return id, nil
}

func (t *pgTargetTx) FindRelationID(ctx context.Context, buyerID, supplierID int64) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT pr_id FROM party_relation WHERE fk_buyer_id = $1 AND fk_supplier_id = $2 LIMIT 1`,
		buyerID, supplierID).Scan(&id)
	return optional(id, err)
}

func (t *pgTargetTx) CreateRelation(ctx context.Context, r schema.PartyRelation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO party_relation (fk_buyer_id, fk_supplier_id)
		 VALUES ($1, $2)
		 RETURNING pr_id`,
		r.BuyerID, r.SupplierID).Scan(&id)
	if err != nil {
		return 0, conflict("party_relation", err)
	}
	return id, nil
}

func (t *pgTargetTx) CreateDocument(ctx context.Context, d schema.Document) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO document (fk_pr_id, fk_dt_id, type, number, control_reference,
		                       datetime, additional_information, original_filename, insert_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING document_id`,
		d.RelationID, d.DocTypeID, d.Type, d.Number, d.ControlReference,
		d.DateTime, d.AdditionalInfo, d.OriginalFilename, d.InsertDate).Scan(&id)
	if err != nil {
		return 0, conflict("document", err)
	}
	return id, nil
}

func (t *pgTargetTx) CreateOrder(ctx context.Context, o schema.Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO "order" (fk_document_id, fk_pr_id, order_number, order_date,
		                      horizon_start_date, horizon_end_date,
		                      fk_buyer_id, buyer_identifier,
		                      fk_supplier_id, supplier_identifier,
		                      fk_seller_id, seller_identifier,
		                      insert_date, is_confirmed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING order_id`,
		o.DocumentID, o.RelationID, o.OrderNumber, o.OrderDate,
		o.HorizonStartDate, o.HorizonEndDate,
		o.BuyerID, o.BuyerIdentifier,
		o.SupplierID, o.SupplierIdentifier,
		o.SellerID, o.SellerIdentifier,
		o.InsertDate, o.IsConfirmed).Scan(&id)
	if err != nil {
		return 0, conflict("order", err)
	}
	return id, nil
}

func (t *pgTargetTx) FindConsigneeID(ctx context.Context, identifier string, buyerID int64) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT consignee_id FROM consignee WHERE identifier = $1 AND fk_buyer_id = $2 LIMIT 1`,
		identifier, buyerID).Scan(&id)
	return optional(id, err)
}

func (t *pgTargetTx) CreateConsignee(ctx context.Context, c schema.Consignee) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO consignee (fk_buyer_id, identifier, name)
		 VALUES ($1, $2, $3)
		 RETURNING consignee_id`,
		c.BuyerID, c.Identifier, c.Name).Scan(&id)
	if err != nil {
		return 0, conflict("consignee", err)
	}
	return id, nil
}

func (t *pgTargetTx) FindDockID(ctx context.Context, identifier string, buyerID int64) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT dock_id FROM dock WHERE identifier = $1 AND fk_buyer_id = $2 LIMIT 1`,
		identifier, buyerID).Scan(&id)
	return optional(id, err)
}

func (t *pgTargetTx) CreateDock(ctx context.Context, d schema.Dock) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO dock (fk_buyer_id, fk_consignee_id, identifier, name)
		 VALUES ($1, $2, $3, $4)
		 RETURNING dock_id`,
		d.BuyerID, d.ConsigneeID, d.Identifier, d.Name).Scan(&id)
	if err != nil {
		return 0, conflict("dock", err)
	}
	return id, nil
}

func (t *pgTargetTx) FindOrderConsigneeID(ctx context.Context, oc schema.OrderConsignee) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT order_consignee_id FROM order_consignee
		 WHERE fk_order_id = $1
		   AND fk_consignee_id = $2
		   AND fk_dock_id IS NOT DISTINCT FROM $3
		   AND consignee_identifier = $4
		   AND dock_identifier = $5
		 LIMIT 1`,
		oc.OrderID, oc.ConsigneeID, oc.DockID, oc.ConsigneeIdentifier, oc.DockIdentifier).Scan(&id)
	return optional(id, err)
}

func (t *pgTargetTx) CreateOrderConsignee(ctx context.Context, oc schema.OrderConsignee) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO order_consignee (fk_order_id, fk_consignee_id, fk_dock_id,
		                              consignee_identifier, dock_identifier,
		                              is_replaced, is_completed, type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING order_consignee_id`,
		oc.OrderID, oc.ConsigneeID, oc.DockID,
		oc.ConsigneeIdentifier, oc.DockIdentifier,
		oc.IsReplaced, oc.IsCompleted, oc.Type).Scan(&id)
	if err != nil {
		return 0, conflict("order_consignee", err)
	}
	return id, nil
}

func (t *pgTargetTx) FindProductID(ctx context.Context, identifier string, supplierID int64) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT product_id FROM product WHERE identifier = $1 AND fk_supplier_id = $2 LIMIT 1`,
		identifier, supplierID).Scan(&id)
	return optional(id, err)
}

func (t *pgTargetTx) CreateProduct(ctx context.Context, p schema.Product) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO product (fk_supplier_id, identifier, description)
		 VALUES ($1, $2, $3)
		 RETURNING product_id`,
		p.SupplierID, p.Identifier, p.Description).Scan(&id)
	if err != nil {
		return 0, conflict("product", err)
	}
	return id, nil
}

func (t *pgTargetTx) FindShipmentID(ctx context.Context, transportIdentifier string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT shipment_id FROM shipment WHERE transport_identifier = $1 LIMIT 1`,
		transportIdentifier).Scan(&id)
	return optional(id, err)
}

func (t *pgTargetTx) CreateShipment(ctx context.Context, s schema.Shipment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO shipment (fk_party_id, is_shipped, carrier_name,
		                       transport_identifier, transport_identifier_meaning,
		                       despatch_datetime, arrival_datetime, mode_of_transport,
		                       intermediate_consignee_code, gross_weight, net_weight,
		                       weight_unit, shipment_number, use_system_despatch_date,
		                       freight_payment_code, freight_bill_number_details, insert_date)
		 VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $8, $9, $10, $11, $12, false, $13, $14, $15)
		 RETURNING shipment_id`,
		s.PartyID, s.IsShipped, s.CarrierName,
		s.TransportIdentifier,
		s.DespatchDateTime, s.ArrivalDateTime, s.ModeOfTransport,
		s.IntermediateCode, s.GrossWeight, s.NetWeight,
		s.WeightUnit, s.ShipmentNumber,
		s.FreightPaymentCode, s.FreightBillDetails, s.InsertDate).Scan(&id)
	if err != nil {
		return 0, conflict("shipment", err)
	}
	return id, nil
}

func (t *pgTargetTx) CreateOrderLine(ctx context.Context, l schema.OrderLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO order_line (fk_order_consignee_id, fk_order_id, fk_product_id,
		                         line_number, release_number, identifier, description,
		                         buyer_code, supplier_code,
		                         earliest_datetime, latest_datetime, last_despatch_datetime,
		                         order_status, quantity_original, quantity_confirmed,
		                         quantity_shipped, unit_quantity, original_delivery_date,
		                         is_cancelled, insert_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		         $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		 RETURNING order_line_id`,
		l.OrderConsigneeID, l.OrderID, l.ProductID,
		l.LineNumber, l.ReleaseNumber, l.Identifier, l.Description,
		l.BuyerCode, l.SupplierCode,
		l.EarliestDateTime, l.LatestDateTime, l.LastDespatchTime,
		l.OrderStatus, l.QuantityOriginal, l.QuantityConfirmed,
		l.QuantityShipped, l.QuantityUnit, l.OriginalDelivery,
		l.IsCancelled, l.InsertDate).Scan(&id)
	if err != nil {
		return 0, conflict("order_line", err)
	}
	return id, nil
}

func (t *pgTargetTx) CreateDespatch(ctx context.Context, d schema.Despatch) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO despatch (fk_pr_id, fk_shipment_id, fk_consignee_id, fk_dock_id,
		                       fk_document_id, is_shipped, despatch_number,
		                       bill_of_lading_number, despatch_date, arrival_date,
		                       gross_weight, net_weight, weight_unit, insert_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING despatch_id`,
		d.RelationID, d.ShipmentID, d.ConsigneeID, d.DockID,
		d.DocumentID, d.IsShipped, d.DespatchNumber,
		d.BillOfLadingNumber, d.DespatchDate, d.ArrivalDate,
		d.GrossWeight, d.NetWeight, d.WeightUnit, d.InsertDate).Scan(&id)
	if err != nil {
		return 0, conflict("despatch", err)
	}
	return id, nil
}

func (t *pgTargetTx) CreateDespatchProduct(ctx context.Context, p schema.DespatchProduct) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO despatch_product (fk_despatch_id, fk_order_line_id, fk_product_id,
		                               quantity_despatch, quantity_package_handling,
		                               quantity_package_packaging, unit_quantity,
		                               advice_note_number, insert_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING despatch_product_id`,
		p.DespatchID, p.OrderLineID, p.ProductID,
		p.Quantity, p.QuantityHandling,
		p.QuantityPacking, p.QuantityUnit,
		p.AdviceNoteNumber, p.InsertDate).Scan(&id)
	if err != nil {
		return 0, conflict("despatch_product", err)
	}
	return id, nil
}

func (t *pgTargetTx) CreateDespatchPackage(ctx context.Context, p schema.DespatchPackage) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO despatch_package (fk_despatch_id, fk_order_line_id,
		                               fk_despatch_package_id, fk_product_packaging_id,
		                               type, is_full, quantity_package, quantity_part,
		                               gross_weight, net_weight, weight_unit)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING despatch_package_id`,
		p.DespatchID, p.OrderLineID,
		p.OuterPackageID, p.ProductPackagingID,
		p.Tier, p.IsFull, p.QuantityPackage, p.QuantityPart,
		p.GrossWeight, p.NetWeight, p.WeightUnit).Scan(&id)
	if err != nil {
		return 0, conflict("despatch_package", err)
	}
	return id, nil
}

func (t *pgTargetTx) CreateCrossReference(ctx context.Context, x schema.CrossReference) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO v2_migration (order_line_id, xdoc_desadv_detail_id,
		                           xdoc_delfor_detail_id, xdoc_deljit_detail_id,
		                           consignee_identifier, dock_identifier,
		                           original_delivery_date)
		 VALUES ($1, $2, NULLIF($3, 0), NULLIF($4, 0), $5, $6, $7)
		 RETURNING v2_migration_id`,
		x.OrderLineID, x.DespatchDetailID,
		x.ForecastDetailID, x.ScheduleDetailID,
		x.ConsigneeIdentifier, x.DockIdentifier,
		x.OriginalDelivery).Scan(&id)
	if err != nil {
		return 0, conflict("v2_migration", err)
	}
	return id, nil
}

func (t *pgTargetTx) CrossRefOrderLine(ctx context.Context, despatchDetailID int64) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT order_line_id FROM v2_migration WHERE xdoc_desadv_detail_id = $1 LIMIT 1`,
		despatchDetailID).Scan(&id)
	return optional(id, err)
}

func (t *pgTargetTx) CrossRefOrderLineByScheduleDetail(ctx context.Context, scheduleDetailID int64) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT order_line_id FROM v2_migration WHERE xdoc_deljit_detail_id = $1 LIMIT 1`,
		scheduleDetailID).Scan(&id)
	return optional(id, err)
}

func (t *pgTargetTx) SetCrossRefDespatchProduct(ctx context.Context, despatchDetailID, despatchProductID int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE v2_migration SET despatch_product_id = $2 WHERE xdoc_desadv_detail_id = $1`,
		despatchDetailID, despatchProductID)
	return err
}

func (t *pgTargetTx) FirstProductPackagingID(ctx context.Context, productID int64) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT product_packaging_id FROM product_packaging
		 WHERE fk_product_id = $1
		 ORDER BY product_packaging_id
		 LIMIT 1`,
		productID).Scan(&id)
	return optional(id, err)
}

func (t *pgTargetTx) OrderLinePlacement(ctx context.Context, orderLineID int64) (int64, int64, bool, error) {
	var productID, consigneeID int64
	err := t.tx.QueryRow(ctx,
		`SELECT ol.fk_product_id, oc.fk_consignee_id
		 FROM order_line ol
		 JOIN order_consignee oc ON oc.order_consignee_id = ol.fk_order_consignee_id
		 WHERE ol.order_line_id = $1`,
		orderLineID).Scan(&productID, &consigneeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	return productID, consigneeID, true, nil
}

// The dispatched counter column name carries a historical misspelling in the
// v3 schema.
func (t *pgTargetTx) UpdateCumulativeDispatched(ctx context.Context, u schema.CumulativeUpdate) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE cumulative SET current_dispetched = $4
		 WHERE fk_product_id = $1 AND fk_party_id = $2 AND fk_consignee_id = $3`,
		u.ProductID, u.PartyID, u.ConsigneeID, u.Quantity)
	if err != nil {
		return 0, conflict("cumulative", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTargetTx) UpdateCumulativeAcknowledged(ctx context.Context, u schema.CumulativeUpdate) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE cumulative SET current_acknowledged = $4
		 WHERE fk_product_id = $1 AND fk_party_id = $2 AND fk_consignee_id = $3`,
		u.ProductID, u.PartyID, u.ConsigneeID, u.Quantity)
	if err != nil {
		return 0, conflict("cumulative", err)
	}
	return tag.RowsAffected(), nil
}

var _ migrate.TargetStore = (*PgTarget)(nil)
var _ migrate.TargetTx = (*pgTargetTx)(nil)
