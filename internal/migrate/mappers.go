package migrate

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/otoedi/o3mig/internal/schema"
)

// Entity migrators: pure transformations from legacy rows plus resolved
// parent keys to target payloads. No store I/O happens here; the driver
// fetches rows and performs the writes.

const (
	partyNameLimit = 50

	// Legacy mode-of-transport sentinel and the default code it maps to.
	transportModeUnknown = "-1"
	transportModeDefault = "21"

	// Bit in the legacy document status word meaning shipped-confirmed.
	shippedStatusBit = 8

	emptyTransportID    = "EMPTY"
	defaultWeightUnit   = "KG"
	defaultQuantityUnit = "PCE"
)

var qtyOne = decimal.NewFromInt(1)

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// confirmedQuantity is the quantity-confirmation rule. The legacy behavior
// mirrors the original quantity unconditionally; an approval-flag variant
// exists in the source history but was disabled there. Applied identically in
// the forecast and firm branches so the policy lives in exactly one place.
func confirmedQuantity(original decimal.Decimal) decimal.Decimal {
	return original
}

func truncateName(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// normalizeTransportMode maps the legacy "-1" sentinel to the default mode
// code and passes every other value through.
func normalizeTransportMode(mode string) string {
	if mode == transportModeUnknown {
		return transportModeDefault
	}
	return mode
}

// shippedFlag extracts the shipped-confirmed bit from the legacy status word
// as a boolean, never as a raw masked integer.
func shippedFlag(status int64) bool {
	return status&shippedStatusBit != 0
}

// productIdentifier prefers the sender's item code and falls back to the
// receiver's.
func productIdentifier(senderCode, receiverCode string) string {
	return firstNonEmpty(senderCode, receiverCode)
}

func buildParty(code, name string, role int16, now time.Time) schema.Party {
	return schema.Party{
		Identifier: code,
		EDICode:    code,
		Role:       role,
		Name:       truncateName(name, partyNameLimit),
		InsertDate: now,
	}
}

// documentTypeFor collapses the legacy transaction type ids onto the two v3
// document types: forecasts and firm schedules are order-flow, everything
// else is despatch-flow.
func documentTypeFor(legacyTypeID int64) int16 {
	if legacyTypeID == 1 || legacyTypeID == 2 {
		return schema.DocTypeOrderFlow
	}
	return schema.DocTypeDespatchFlow
}

// documentNumber appends a dash-prefixed replacement reference when the
// transaction supersedes an earlier one.
func documentNumber(x schema.XDoc) string {
	if x.IsReplacement() {
		return x.ReleaseNumber + "-" + formatID(x.ReplacementXDocID)
	}
	return x.ReleaseNumber
}

type documentProvenance struct {
	MigratedFromV2 string `json:"migratedFromV2"`
	ValidityPeriod struct {
		From  string `json:"from"`
		Until string `json:"until"`
	} `json:"validityPeriod"`
	SenderEDICode   int64 `json:"sender_edi_code"`
	ReceiverEDICode int64 `json:"receiver_edi_code"`
}

func buildDocument(x schema.XDoc, relationID, buyerID, supplierID int64) schema.Document {
	prov := documentProvenance{MigratedFromV2: "yes", SenderEDICode: buyerID, ReceiverEDICode: supplierID}
	info, _ := json.Marshal(prov)
	return schema.Document{
		RelationID:       relationID,
		DocTypeID:        documentTypeFor(x.TypeID),
		Type:             x.Type,
		Number:           documentNumber(x),
		ControlReference: x.ReleaseNumber,
		DateTime:         x.IssueDate.Ptr(),
		AdditionalInfo:   string(info),
		OriginalFilename: x.XMLPath,
		InsertDate:       x.InsertTime.Ptr(),
	}
}

// parties is the resolved trading pair threaded through one relation's
// traversal: target-side keys plus the legacy identifiers of both sides.
type parties struct {
	BuyerID          int64
	SupplierID       int64
	SellerID         int64
	BuyerLegacyID    int64
	SupplierLegacyID int64
	BuyerCode        string
	SupplierCode     string
	BuyerName        string
	SupplierName     string
}

func buildOrderFromForecast(x schema.XDoc, head schema.ForecastDetail, relationID int64, pp parties) schema.Order {
	return schema.Order{
		DocumentID:         0, // set by the driver once the document exists
		RelationID:         relationID,
		OrderNumber:        firstNonEmpty(head.ReleaseReference, x.ReleaseNumber),
		OrderDate:          x.IssueDate.Ptr(),
		HorizonStartDate:   head.InventoryStartDate.Ptr(),
		HorizonEndDate:     head.HorizonEndDate.Ptr(),
		BuyerID:            pp.BuyerID,
		BuyerIdentifier:    head.BuyerCode,
		SupplierID:         pp.SupplierID,
		SupplierIdentifier: head.SupplierCode,
		SellerID:           pp.SellerID,
		SellerIdentifier:   head.SellerCode,
		InsertDate:         x.InsertTime.Ptr(),
		IsConfirmed:        true,
	}
}

func buildOrderFromSchedule(x schema.XDoc, head schema.ScheduleDetail, relationID int64, pp parties) schema.Order {
	return schema.Order{
		RelationID:         relationID,
		OrderNumber:        firstNonEmpty(head.OrderNumber, x.ReleaseNumber),
		OrderDate:          x.IssueDate.Ptr(),
		HorizonStartDate:   head.HorizonStartDate.Ptr(),
		HorizonEndDate:     head.HorizonEndDate.Ptr(),
		BuyerID:            pp.BuyerID,
		BuyerIdentifier:    head.BuyerCode,
		SupplierID:         pp.SupplierID,
		SupplierIdentifier: head.SupplierCode,
		SellerID:           pp.SellerID,
		SellerIdentifier:   head.SellerCode,
		InsertDate:         x.InsertTime.Ptr(),
		IsConfirmed:        true,
	}
}

func buildOrderConsigneeFromForecast(line schema.ForecastDetail, x schema.XDoc, orderID, consigneeID int64, dockID *int64) schema.OrderConsignee {
	return schema.OrderConsignee{
		OrderID:             orderID,
		ConsigneeID:         consigneeID,
		DockID:              dockID,
		ConsigneeIdentifier: line.DeliveryPointCode,
		DockIdentifier:      firstNonEmpty(line.UnloadingDockCode, line.DeliveryPointCode),
		IsReplaced:          x.IsReplacement(),
		IsCompleted:         true,
		Type:                schema.OrderStatusForecast,
	}
}

func buildOrderConsigneeFromSchedule(line schema.ScheduleDetail, x schema.XDoc, buyerCode string, orderID, consigneeID int64, dockID *int64) schema.OrderConsignee {
	id := firstNonEmpty(line.ShipToCode, buyerCode)
	return schema.OrderConsignee{
		OrderID:             orderID,
		ConsigneeID:         consigneeID,
		DockID:              dockID,
		ConsigneeIdentifier: id,
		DockIdentifier:      id,
		IsReplaced:          x.IsReplacement(),
		IsCompleted:         true,
		Type:                schema.OrderStatusFirm,
	}
}

func buildOrderLineFromForecast(line schema.ForecastDetail, x schema.XDoc, orderConsigneeID, orderID, productID int64) schema.OrderLine {
	return schema.OrderLine{
		OrderConsigneeID:  orderConsigneeID,
		OrderID:           orderID,
		ProductID:         productID,
		LineNumber:        line.SchedulingConditionID,
		Identifier:        productIdentifier(line.ItemSenderCode, line.ItemReceiverCode),
		Description:       line.ItemDescription,
		BuyerCode:         line.ItemSenderCode,
		SupplierCode:      line.ItemReceiverCode,
		EarliestDateTime:  line.PeriodStartDate.Ptr(),
		LatestDateTime:    line.HorizonEndDate.Ptr(),
		LastDespatchTime:  line.LastShipmentDate.Ptr(),
		OrderStatus:       schema.OrderStatusForecast,
		QuantityOriginal:  line.NetQuantity,
		QuantityConfirmed: confirmedQuantity(line.NetQuantity),
		QuantityShipped:   line.DeliveredQuantity,
		QuantityUnit:      line.QuantityUnit,
		OriginalDelivery:  line.PeriodStartDate.Ptr(),
		IsCancelled:       x.IsReplacement(),
		InsertDate:        x.InsertTime.Ptr(),
	}
}

func buildOrderLineFromSchedule(line schema.ScheduleDetail, x schema.XDoc, orderConsigneeID, orderID, productID int64) schema.OrderLine {
	return schema.OrderLine{
		OrderConsigneeID:  orderConsigneeID,
		OrderID:           orderID,
		ProductID:         productID,
		LineNumber:        line.SchedulingConditionID,
		Identifier:        productIdentifier(line.ItemSenderCode, line.ItemReceiverCode),
		Description:       line.ItemDescription,
		BuyerCode:         line.ItemSenderCode,
		SupplierCode:      line.ItemReceiverCode,
		EarliestDateTime:  line.ShipScheduleDate.Ptr(),
		LatestDateTime:    line.HorizonEndDate.Ptr(),
		LastDespatchTime:  line.LastShipmentDate.Ptr(),
		OrderStatus:       schema.OrderStatusFirm,
		QuantityOriginal:  line.Quantity,
		QuantityConfirmed: confirmedQuantity(line.Quantity),
		QuantityShipped:   line.DeliveredQuantity,
		QuantityUnit:      line.QuantityUnit,
		OriginalDelivery:  line.ShipScheduleDate.Ptr(),
		IsCancelled:       x.IsReplacement(),
		InsertDate:        x.InsertTime.Ptr(),
	}
}

func buildShipment(head schema.DespatchDetail, x schema.XDoc, supplierID int64) schema.Shipment {
	transportID := firstNonEmpty(head.ShipmentNumber, emptyTransportID)
	return schema.Shipment{
		PartyID:             supplierID,
		IsShipped:           shippedFlag(head.DocumentStatus),
		CarrierName:         head.CarrierName,
		TransportIdentifier: transportID,
		DespatchDateTime:    head.ShipmentDateTime.Ptr(),
		ArrivalDateTime:     head.ArrivalDateTime.Ptr(),
		ModeOfTransport:     normalizeTransportMode(head.ModeOfTransport),
		IntermediateCode:    head.IntermediateCode,
		GrossWeight:         head.TotalGrossWeight,
		NetWeight:           head.TotalNetWeight,
		WeightUnit:          firstNonEmpty(head.GrossWeightUnit, head.NetWeightUnit, defaultWeightUnit),
		ShipmentNumber:      transportID,
		FreightPaymentCode:  head.FreightBillNumber,
		FreightBillDetails:  head.FreightBillNumber,
		InsertDate:          x.InsertTime.Ptr(),
	}
}

func buildDespatch(head schema.DespatchDetail, x schema.XDoc, relationID int64, shipmentID *int64, consigneeID int64, dockID *int64, documentID int64) schema.Despatch {
	return schema.Despatch{
		RelationID:         relationID,
		ShipmentID:         shipmentID,
		ConsigneeID:        consigneeID,
		DockID:             dockID,
		DocumentID:         documentID,
		IsShipped:          true,
		DespatchNumber:     firstNonEmpty(head.ShipmentNumber, emptyTransportID),
		BillOfLadingNumber: head.BillOfLadingNumber,
		DespatchDate:       head.ShipmentDateTime.Ptr(),
		ArrivalDate:        head.ArrivalDateTime.Ptr(),
		GrossWeight:        head.TotalGrossWeight,
		NetWeight:          head.TotalNetWeight,
		WeightUnit:         firstNonEmpty(head.GrossWeightUnit, defaultWeightUnit),
		InsertDate:         x.InsertTime.Ptr(),
	}
}

func buildDespatchProduct(line schema.DespatchDetail, x schema.XDoc, despatchID, orderLineID, productID int64) schema.DespatchProduct {
	return schema.DespatchProduct{
		DespatchID:       despatchID,
		OrderLineID:      orderLineID,
		ProductID:        productID,
		Quantity:         line.DispatchQuantity,
		QuantityHandling: qtyOne,
		QuantityPacking:  qtyOne,
		QuantityUnit:     defaultQuantityUnit,
		AdviceNoteNumber: "",
		InsertDate:       x.InsertTime.Ptr(),
	}
}

// buildDespatchPackage builds one tier of the two-tier packaging breakdown.
// The inner tier receives the outer tier's generated key via outerID.
func buildDespatchPackage(line schema.DespatchDetail, despatchID, orderLineID int64, packagingID, outerID *int64, tier int16) schema.DespatchPackage {
	return schema.DespatchPackage{
		DespatchID:         despatchID,
		OrderLineID:        orderLineID,
		OuterPackageID:     outerID,
		ProductPackagingID: packagingID,
		Tier:               tier,
		IsFull:             false,
		QuantityPackage:    qtyOne,
		QuantityPart:       line.DispatchQuantity,
		GrossWeight:        qtyOne,
		NetWeight:          qtyOne,
		WeightUnit:         defaultWeightUnit,
	}
}

func buildCrossRefFromForecast(line schema.ForecastDetail, orderLineID, despatchDetailID int64) schema.CrossReference {
	return schema.CrossReference{
		OrderLineID:         orderLineID,
		DespatchDetailID:    despatchDetailID,
		ForecastDetailID:    line.ID,
		ConsigneeIdentifier: line.DeliveryPointCode,
		DockIdentifier:      firstNonEmpty(line.UnloadingDockCode, line.DeliveryPointCode),
		OriginalDelivery:    line.PeriodStartDate.Ptr(),
	}
}

func buildCrossRefFromSchedule(line schema.ScheduleDetail, orderLineID, despatchDetailID int64) schema.CrossReference {
	return schema.CrossReference{
		OrderLineID:         orderLineID,
		DespatchDetailID:    despatchDetailID,
		ScheduleDetailID:    line.ID,
		ConsigneeIdentifier: line.DeliveryPointCode,
		DockIdentifier:      firstNonEmpty(line.UnloadingDockCode, line.DeliveryPointCode),
		OriginalDelivery:    line.ShipScheduleDate.Ptr(),
	}
}

// relationParties assigns buyer and supplier roles from the legacy relation
// row. Order-flow relations (type ids 1 and 2) run buyer→supplier, so the
// sender is the buyer; despatch-flow relations (type id 3) run the other way.
func relationParties(rel schema.Relation) (parties, error) {
	switch rel.DocTypeID {
	case 1, 2:
		return parties{
			BuyerLegacyID:    rel.SenderID,
			BuyerCode:        rel.SenderCode,
			BuyerName:        rel.SenderName,
			SupplierLegacyID: rel.ReceiverID,
			SupplierCode:     rel.ReceiverCode,
			SupplierName:     rel.ReceiverName,
		}, nil
	case 3:
		return parties{
			BuyerLegacyID:    rel.ReceiverID,
			BuyerCode:        rel.ReceiverCode,
			BuyerName:        rel.ReceiverName,
			SupplierLegacyID: rel.SenderID,
			SupplierCode:     rel.SenderCode,
			SupplierName:     rel.SenderName,
		}, nil
	default:
		return parties{}, &UnknownDocumentTypeError{Type: formatID(rel.DocTypeID)}
	}
}
