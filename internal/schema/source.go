// Package schema holds the row shapes exchanged with the two stores: the
// legacy v2 tables read from MySQL and the v3 payloads written to Postgres.
// Field tags follow the legacy column names exactly; normalization happens in
// the migrate package, not here, except for the zero-date sentinel which is
// absorbed by the Date/DateTime scanners.
package schema

import "github.com/shopspring/decimal"

// Relation is one PARTIES_PARTIES row joined to both PARTIES sides.
type Relation struct {
	DocTypeID    int64  `db:"XDOC_TYPE_ID"`
	SenderID     int64  `db:"senderId"`
	SenderCode   string `db:"senderCode"`
	SenderName   string `db:"senderName"`
	ReceiverID   int64  `db:"receiverId"`
	ReceiverCode string `db:"receiverCode"`
	ReceiverName string `db:"receiverName"`
}

// XDoc is one legacy inbound transaction envelope, joined to its type row.
type XDoc struct {
	ID                int64    `db:"ID"`
	TypeID            int64    `db:"XDOC_TYPE_ID"`
	Type              string   `db:"TYPE"`
	ReleaseNumber     string   `db:"RELEASE_NUMBER"`
	ReplacementXDocID int64    `db:"REPLACEMENT_XDOC_ID"`
	Status            int64    `db:"STATUS"`
	IssueDate         Date     `db:"ISSUE_DATE"`
	XMLPath           string   `db:"XML_PATH"`
	InsertTime        DateTime `db:"INSERT_TIME"`
}

// IsReplacement reports whether this transaction supersedes an earlier one.
func (x XDoc) IsReplacement() bool {
	return x.ReplacementXDocID > 0
}

// ForecastDetail is an XDOC_DELFOR_DETAIL row joined to its XDOC_DELFOR head
// and the owning XDOC.
type ForecastDetail struct {
	ID                    int64           `db:"ID"`
	DeliveryPointCode     string          `db:"DeliveryPointCode"`
	UnloadingDockCode     string          `db:"UnloadingDockCode"`
	ItemSenderCode        string          `db:"ItemSenderCode"`
	ItemReceiverCode      string          `db:"ItemReceiverCode"`
	ItemDescription       string          `db:"ItemDescription"`
	SchedulingConditionID int64           `db:"SchedulingConditionId"`
	PeriodStartDate       Date            `db:"ForecastPeriodStartDate"`
	LastShipmentDate      Date            `db:"LastAsnShipmentDate"`
	NetQuantity           decimal.Decimal `db:"ForecastNetQuantity"`
	DeliveredQuantity     decimal.Decimal `db:"ForecastDeliveredQuantity"`
	QuantityUnit          string          `db:"ForecastNetQuantityUom"`

	// Head columns from XDOC_DELFOR.
	ReleaseReference   string `db:"Snrf"`
	InventoryStartDate Date   `db:"BeginningInventoryDate"`
	HorizonEndDate     Date   `db:"HorizonEndDate"`
	BuyerCode          string `db:"BuyerCode"`
	SupplierCode       string `db:"SupplierCode"`
	SellerCode         string `db:"SellerCode"`
}

// ScheduleDetail is an XDOC_DELJIT_DETAIL row joined to its XDOC_DELJIT head.
type ScheduleDetail struct {
	ID                    int64           `db:"ID"`
	DeliveryPointCode     string          `db:"DeliveryPointCode"`
	UnloadingDockCode     string          `db:"UnloadingDockCode"`
	ItemSenderCode        string          `db:"ItemSenderCode"`
	ItemReceiverCode      string          `db:"ItemReceiverCode"`
	ItemDescription       string          `db:"ItemDescription"`
	SchedulingConditionID int64           `db:"SchedulingConditionId"`
	ShipScheduleDate      Date            `db:"ShipScheduleDate"`
	LastShipmentDate      Date            `db:"LastAsnShipmentDate"`
	Quantity              decimal.Decimal `db:"ScheduleQuantity"`
	DeliveredQuantity     decimal.Decimal `db:"DeliveredQuantity"`
	QuantityUnit          string          `db:"ScheduleQuantityUom"`

	// Head columns from XDOC_DELJIT.
	OrderNumber      string `db:"PurchaseOrderNumber"`
	HorizonStartDate Date   `db:"HorizonStartDate"`
	HorizonEndDate   Date   `db:"HorizonEndDate"`
	BuyerCode        string `db:"BuyerCode"`
	SupplierCode     string `db:"SupplierCode"`
	SellerCode       string `db:"SellerCode"`
	ShipToCode       string `db:"ShipToCode"`
}

// DespatchDetail is an XDOC_DESADV_DETAIL row joined to its XDOC_DESADV head
// and the owning XDOC's status word.
type DespatchDetail struct {
	ID               int64           `db:"ID"`
	ItemSenderCode   string          `db:"ItemSenderCode"`
	ItemReceiverCode string          `db:"ItemReceiverCode"`
	ItemDescription  string          `db:"ItemDescription"`
	DispatchQuantity decimal.Decimal `db:"DispatchQuantity"`

	// Head columns from XDOC_DESADV.
	CarrierName          string          `db:"CarrierName"`
	ModeOfTransport      string          `db:"ModeOfTransport"`
	IntermediateCode     string          `db:"IntermediateConsigneeCode"`
	FreightBillNumber    string          `db:"FreightBillNumber"`
	ShipToCode           string          `db:"ShipToCode"`
	ShipmentNumber       string          `db:"ShipmentNumber"`
	BillOfLadingNumber   string          `db:"BillOfLadingNumber"`
	ShipmentDateTime     DateTime        `db:"ShipmentDateTime"`
	ArrivalDateTime      DateTime        `db:"EstimatedArrivalDateTime"`
	TotalGrossWeight     decimal.Decimal `db:"TotalGrossWeight"`
	TotalNetWeight       decimal.Decimal `db:"TotalNetWeight"`
	GrossWeightUnit      string          `db:"TotalGrossWeightUom"`
	NetWeightUnit        string          `db:"TotalNetWeightUom"`
	DocumentStatus       int64           `db:"STATUS"`
}

// Correlation is a DESADV_DELJIT row: the legacy bridge between despatch
// detail rows and the forecast/schedule detail rows describing the same
// business line.
type Correlation struct {
	DespatchDetailID int64 `db:"XDOC_DESADV_DETAIL_ID"`
	ForecastDetailID int64 `db:"XDOC_DELFOR_DETAIL_ID"`
	ScheduleDetailID int64 `db:"XDOC_DELJIT_DETAIL_ID"`
}

// CumulativeAggregate is one MAX-grouped cumulative counter row per item code.
type CumulativeAggregate struct {
	ItemSenderCode   string          `db:"ItemSenderCode"`
	ScheduleDetailID int64           `db:"ID"`
	Quantity         decimal.Decimal `db:"Quantity"`
}
