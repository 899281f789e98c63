// Package persistence implements the data access gateways: the legacy v2
// reader on MySQL, the v3 writer on Postgres and the row-level clone gateway.
// Everything is exposed through the interfaces in internal/migrate so the
// traversal code never touches a driver.
package persistence

import (
	"context"

	"github.com/go-faster/errors"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/otoedi/o3mig/internal/migrate"
	"github.com/otoedi/o3mig/internal/schema"
)

// MySQLSource reads the legacy v2 schema. All access is read-only.
//
// The DSN must not enable parseTime: the legacy tables carry 0000-00-00
// sentinels that only scan cleanly as text, which schema.Date normalizes.
type MySQLSource struct {
	db *sqlx.DB
}

func OpenMySQL(ctx context.Context, dsn string) (*MySQLSource, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open source store")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping source store")
	}
	return &MySQLSource{db: db}, nil
}

func NewMySQLSource(db *sqlx.DB) *MySQLSource {
	return &MySQLSource{db: db}
}

func (s *MySQLSource) Close() error {
	return s.db.Close()
}

const relationsQuery = `
SELECT PP.XDOC_TYPE_ID,
       COALESCE(PS.ID, 0)         AS senderId,
       COALESCE(PS.EDI_CODE, '')  AS senderCode,
       COALESCE(PS.NAME, '')      AS senderName,
       COALESCE(PR.ID, 0)         AS receiverId,
       COALESCE(PR.EDI_CODE, '')  AS receiverCode,
       COALESCE(PR.NAME, '')      AS receiverName
FROM PARTIES_PARTIES PP
LEFT JOIN PARTIES PS ON PS.ID = PP.SENDER_PARTIES_ID
LEFT JOIN PARTIES PR ON PR.ID = PP.RECEPIENT_PARTIES_ID
WHERE PS.EDI_CODE = ? OR PR.EDI_CODE = ?
ORDER BY PP.XDOC_TYPE_ID`

func (s *MySQLSource) Relations(ctx context.Context, ediCode string) ([]schema.Relation, error) {
	out := []schema.Relation{}
	if err := s.db.SelectContext(ctx, &out, relationsQuery, ediCode, ediCode); err != nil {
		return nil, errors.Wrap(err, "select relations")
	}
	return out, nil
}

const documentsQuery = `
SELECT X.ID,
       X.XDOC_TYPE_ID,
       COALESCE(XT.TYPE, '')              AS TYPE,
       COALESCE(X.RELEASE_NUMBER, '')     AS RELEASE_NUMBER,
       COALESCE(X.REPLACEMENT_XDOC_ID, 0) AS REPLACEMENT_XDOC_ID,
       COALESCE(X.STATUS, 0)              AS STATUS,
       X.ISSUE_DATE,
       COALESCE(X.XML_PATH, '')           AS XML_PATH,
       X.INSERT_TIME
FROM XDOC X
LEFT JOIN XDOC_TYPE XT ON XT.ID = X.XDOC_TYPE_ID
WHERE X.SENDER_PARTY_ID = ? AND X.RECEPIENT_PARTY_ID = ? AND X.XDOC_TYPE_ID = ?
ORDER BY X.ID`

func (s *MySQLSource) Documents(ctx context.Context, senderID, receiverID, typeID int64) ([]schema.XDoc, error) {
	out := []schema.XDoc{}
	if err := s.db.SelectContext(ctx, &out, documentsQuery, senderID, receiverID, typeID); err != nil {
		return nil, errors.Wrap(err, "select documents")
	}
	return out, nil
}

const forecastDetailsQuery = `
SELECT XDD.ID,
       COALESCE(XDD.DeliveryPointCode, '')         AS DeliveryPointCode,
       COALESCE(XDD.UnloadingDockCode, '')         AS UnloadingDockCode,
       COALESCE(XDD.ItemSenderCode, '')            AS ItemSenderCode,
       COALESCE(XDD.ItemReceiverCode, '')          AS ItemReceiverCode,
       COALESCE(XDD.ItemDescription, '')           AS ItemDescription,
       COALESCE(XDD.SchedulingConditionId, 0)      AS SchedulingConditionId,
       XDD.ForecastPeriodStartDate,
       XDD.LastAsnShipmentDate,
       COALESCE(XDD.ForecastNetQuantity, 0)        AS ForecastNetQuantity,
       COALESCE(XDD.ForecastDeliveredQuantity, 0)  AS ForecastDeliveredQuantity,
       COALESCE(XDD.ForecastNetQuantityUom, '')    AS ForecastNetQuantityUom,
       COALESCE(XD.Snrf, '')                       AS Snrf,
       XD.BeginningInventoryDate,
       XD.HorizonEndDate,
       COALESCE(XD.BuyerCode, '')                  AS BuyerCode,
       COALESCE(XD.SupplierCode, '')               AS SupplierCode,
       COALESCE(XD.SellerCode, '')                 AS SellerCode
FROM XDOC_DELFOR_DETAIL XDD
LEFT JOIN XDOC_DELFOR XD ON XDD.DELFOR_ID = XD.ID
WHERE XDD.XDOC_ID = ?
ORDER BY XDD.ID`

func (s *MySQLSource) ForecastDetails(ctx context.Context, xdocID int64) ([]schema.ForecastDetail, error) {
	out := []schema.ForecastDetail{}
	if err := s.db.SelectContext(ctx, &out, forecastDetailsQuery, xdocID); err != nil {
		return nil, errors.Wrap(err, "select forecast details")
	}
	return out, nil
}

const scheduleDetailsQuery = `
SELECT XDD.ID,
       COALESCE(XDD.DeliveryPointCode, '')     AS DeliveryPointCode,
       COALESCE(XDD.UnloadingDockCode, '')     AS UnloadingDockCode,
       COALESCE(XDD.ItemSenderCode, '')        AS ItemSenderCode,
       COALESCE(XDD.ItemReceiverCode, '')      AS ItemReceiverCode,
       COALESCE(XDD.ItemDescription, '')       AS ItemDescription,
       COALESCE(XDD.SchedulingConditionId, 0)  AS SchedulingConditionId,
       COALESCE(XDD.PurchaseOrderNumber, '')   AS PurchaseOrderNumber,
       XDD.ShipScheduleDate,
       XDD.LastAsnShipmentDate,
       COALESCE(XDD.ScheduleQuantity, 0)       AS ScheduleQuantity,
       COALESCE(XDD.DeliveredQuantity, 0)      AS DeliveredQuantity,
       COALESCE(XDD.ScheduleQuantityUom, '')   AS ScheduleQuantityUom,
       XD.HorizonStartDate,
       XD.HorizonEndDate,
       COALESCE(XD.BuyerCode, '')              AS BuyerCode,
       COALESCE(XD.SupplierCode, '')           AS SupplierCode,
       COALESCE(XD.SellerCode, '')             AS SellerCode,
       COALESCE(XD.ShipToCode, '')             AS ShipToCode
FROM XDOC_DELJIT_DETAIL XDD
LEFT JOIN XDOC_DELJIT XD ON XDD.DELJIT_ID = XD.ID
WHERE XDD.XDOC_ID = ?
ORDER BY XDD.ID`

func (s *MySQLSource) ScheduleDetails(ctx context.Context, xdocID int64) ([]schema.ScheduleDetail, error) {
	out := []schema.ScheduleDetail{}
	if err := s.db.SelectContext(ctx, &out, scheduleDetailsQuery, xdocID); err != nil {
		return nil, errors.Wrap(err, "select schedule details")
	}
	return out, nil
}

const despatchDetailsQuery = `
SELECT XDD.ID,
       COALESCE(XDD.ItemSenderCode, '')              AS ItemSenderCode,
       COALESCE(XDD.ItemReceiverCode, '')            AS ItemReceiverCode,
       COALESCE(XDD.ItemDescription, '')             AS ItemDescription,
       COALESCE(XDD.DispatchQuantity, 0)             AS DispatchQuantity,
       COALESCE(XD.CarrierName, '')                  AS CarrierName,
       COALESCE(XD.ModeOfTransport, '')              AS ModeOfTransport,
       COALESCE(XD.IntermediateConsigneeCode, '')    AS IntermediateConsigneeCode,
       COALESCE(XD.FreightBillNumber, '')            AS FreightBillNumber,
       COALESCE(XD.ShipToCode, '')                   AS ShipToCode,
       COALESCE(XD.ShipmentNumber, '')               AS ShipmentNumber,
       COALESCE(XD.BillOfLadingNumber, '')           AS BillOfLadingNumber,
       XD.ShipmentDateTime,
       XD.EstimatedArrivalDateTime,
       COALESCE(XD.TotalGrossWeight, 0)              AS TotalGrossWeight,
       COALESCE(XD.TotalNetWeight, 0)                AS TotalNetWeight,
       COALESCE(XD.TotalGrossWeightUom, '')          AS TotalGrossWeightUom,
       COALESCE(XD.TotalNetWeightUom, '')            AS TotalNetWeightUom,
       COALESCE(X.STATUS, 0)                         AS STATUS
FROM XDOC_DESADV_DETAIL XDD
LEFT JOIN XDOC_DESADV XD ON XDD.DESADV_ID = XD.ID
LEFT JOIN XDOC X ON XD.XDOC_ID = X.ID
WHERE XDD.XDOC_ID = ?
ORDER BY XDD.ID`

func (s *MySQLSource) DespatchDetails(ctx context.Context, xdocID int64) ([]schema.DespatchDetail, error) {
	out := []schema.DespatchDetail{}
	if err := s.db.SelectContext(ctx, &out, despatchDetailsQuery, xdocID); err != nil {
		return nil, errors.Wrap(err, "select despatch details")
	}
	return out, nil
}

func (s *MySQLSource) correlations(ctx context.Context, column string, id int64) ([]schema.Correlation, error) {
	out := []schema.Correlation{}
	q := `
SELECT COALESCE(XDOC_DESADV_DETAIL_ID, 0) AS XDOC_DESADV_DETAIL_ID,
       COALESCE(XDOC_DELFOR_DETAIL_ID, 0) AS XDOC_DELFOR_DETAIL_ID,
       COALESCE(XDOC_DELJIT_DETAIL_ID, 0) AS XDOC_DELJIT_DETAIL_ID
FROM DESADV_DELJIT
WHERE ` + column + ` = ?`
	if err := s.db.SelectContext(ctx, &out, q, id); err != nil {
		return nil, errors.Wrap(err, "select correlations")
	}
	return out, nil
}

func (s *MySQLSource) CorrelationsByForecastDetail(ctx context.Context, forecastDetailID int64) ([]schema.Correlation, error) {
	return s.correlations(ctx, "XDOC_DELFOR_DETAIL_ID", forecastDetailID)
}

func (s *MySQLSource) CorrelationsByScheduleDetail(ctx context.Context, scheduleDetailID int64) ([]schema.Correlation, error) {
	return s.correlations(ctx, "XDOC_DELJIT_DETAIL_ID", scheduleDetailID)
}

func (s *MySQLSource) CorrelationsByDespatchDetail(ctx context.Context, despatchDetailID int64) ([]schema.Correlation, error) {
	return s.correlations(ctx, "XDOC_DESADV_DETAIL_ID", despatchDetailID)
}

// Cumulative counters come from the schedule details, joined through the last
// delivered despatch so that only items with despatch history aggregate. The
// detail id is MAX-grouped alongside the quantity so callers get a concrete
// line to resolve the placement from.
func (s *MySQLSource) cumulatives(ctx context.Context, quantityColumn, extraWhere string, buyerID, supplierID int64) ([]schema.CumulativeAggregate, error) {
	out := []schema.CumulativeAggregate{}
	q := `
SELECT COALESCE(deld.ItemSenderCode, '') AS ItemSenderCode,
       MAX(deld.ID) AS ID,
       COALESCE(MAX(deld.` + quantityColumn + `), 0) AS Quantity
FROM XDOC_DELJIT_DETAIL deld
INNER JOIN XDOC x ON deld.XDOC_ID = x.ID
INNER JOIN XDOC_DESADV des ON deld.LastDeliveredDesadvID = des.ID
INNER JOIN XDOC desdoc ON des.XDOC_ID = desdoc.ID
WHERE x.SENDER_PARTY_ID = ? AND x.RECEPIENT_PARTY_ID = ?` + extraWhere + `
GROUP BY deld.ItemSenderCode`
	if err := s.db.SelectContext(ctx, &out, q, buyerID, supplierID); err != nil {
		return nil, errors.Wrap(err, "select cumulatives")
	}
	return out, nil
}

func (s *MySQLSource) ShippedCumulatives(ctx context.Context, buyerID, supplierID int64) ([]schema.CumulativeAggregate, error) {
	return s.cumulatives(ctx, "LastAsnShipmentCumulativeQuantity", " AND (desdoc.STATUS & 8) > 0", buyerID, supplierID)
}

func (s *MySQLSource) ReceivedCumulatives(ctx context.Context, buyerID, supplierID int64) ([]schema.CumulativeAggregate, error) {
	return s.cumulatives(ctx, "LastReceivedCumulativeQuantity", "", buyerID, supplierID)
}

var _ migrate.SourceStore = (*MySQLSource)(nil)
