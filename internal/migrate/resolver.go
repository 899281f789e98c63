package migrate

import (
	"context"
	"time"

	"github.com/otoedi/o3mig/internal/schema"
)

type partyKey struct {
	Code string
	Role int16
}

type relationKey struct {
	BuyerID    int64
	SupplierID int64
}

type scopedKey struct {
	OwnerID    int64
	Identifier string
}

type orderConsigneeKey struct {
	OrderID     int64
	ConsigneeID int64
	DockID      int64
}

// Resolver looks up reference entities by their natural keys and creates them
// when absent. Each key is resolved against the store at most once per
// resolver; repeat calls are served from the cache, so a key causes at most
// one insert.
//
// A resolver is scoped to one transactional unit of work. Rows created in an
// outer scope remain visible to a fresh resolver through the store lookups,
// while rows undone by a savepoint rollback never leak in through a stale
// cache.
type Resolver struct {
	tx  TargetTx
	now time.Time

	parties         map[partyKey]int64
	relations       map[relationKey]int64
	consignees      map[scopedKey]int64
	docks           map[scopedKey]int64
	products        map[scopedKey]int64
	shipments       map[string]int64
	orderConsignees map[orderConsigneeKey]int64
}

func NewResolver(tx TargetTx, now time.Time) *Resolver {
	return &Resolver{
		tx:              tx,
		now:             now,
		parties:         make(map[partyKey]int64),
		relations:       make(map[relationKey]int64),
		consignees:      make(map[scopedKey]int64),
		docks:           make(map[scopedKey]int64),
		products:        make(map[scopedKey]int64),
		shipments:       make(map[string]int64),
		orderConsignees: make(map[orderConsigneeKey]int64),
	}
}

// Party resolves a trading entity by (EDI code, role), creating it with a
// role-appropriate payload when no row exists.
func (r *Resolver) Party(ctx context.Context, code, name string, role int16) (int64, error) {
	key := partyKey{Code: code, Role: role}
	if id, ok := r.parties[key]; ok {
		return id, nil
	}
	id, ok, err := r.tx.FindPartyID(ctx, code, role)
	if err != nil {
		return 0, err
	}
	if !ok {
		id, err = r.tx.CreateParty(ctx, buildParty(code, name, role, r.now))
		if err != nil {
			return 0, err
		}
	}
	r.parties[key] = id
	return id, nil
}

// Relation resolves the ordered (buyer, supplier) pair.
func (r *Resolver) Relation(ctx context.Context, buyerID, supplierID int64) (int64, error) {
	key := relationKey{BuyerID: buyerID, SupplierID: supplierID}
	if id, ok := r.relations[key]; ok {
		return id, nil
	}
	id, ok, err := r.tx.FindRelationID(ctx, buyerID, supplierID)
	if err != nil {
		return 0, err
	}
	if !ok {
		id, err = r.tx.CreateRelation(ctx, schema.PartyRelation{BuyerID: buyerID, SupplierID: supplierID})
		if err != nil {
			return 0, err
		}
	}
	r.relations[key] = id
	return id, nil
}

// Consignee resolves a delivery point scoped to a buyer. The identifier
// doubles as the name; the legacy store has nothing better.
func (r *Resolver) Consignee(ctx context.Context, identifier string, buyerID int64) (int64, error) {
	key := scopedKey{OwnerID: buyerID, Identifier: identifier}
	if id, ok := r.consignees[key]; ok {
		return id, nil
	}
	id, ok, err := r.tx.FindConsigneeID(ctx, identifier, buyerID)
	if err != nil {
		return 0, err
	}
	if !ok {
		id, err = r.tx.CreateConsignee(ctx, schema.Consignee{
			BuyerID:    buyerID,
			Identifier: identifier,
			Name:       identifier,
		})
		if err != nil {
			return 0, err
		}
	}
	r.consignees[key] = id
	return id, nil
}

// Dock resolves an unloading point under a consignee. An empty identifier
// resolves to no dock.
func (r *Resolver) Dock(ctx context.Context, identifier string, buyerID, consigneeID int64) (*int64, error) {
	if identifier == "" {
		return nil, nil
	}
	key := scopedKey{OwnerID: buyerID, Identifier: identifier}
	if id, ok := r.docks[key]; ok {
		return &id, nil
	}
	id, ok, err := r.tx.FindDockID(ctx, identifier, buyerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		id, err = r.tx.CreateDock(ctx, schema.Dock{
			BuyerID:     buyerID,
			ConsigneeID: consigneeID,
			Identifier:  identifier,
			Name:        identifier,
		})
		if err != nil {
			return nil, err
		}
	}
	r.docks[key] = id
	return &id, nil
}

// Product resolves a supplier-scoped item. When the legacy row has no
// description the identifier stands in for it.
func (r *Resolver) Product(ctx context.Context, identifier, description string, supplierID int64) (int64, error) {
	key := scopedKey{OwnerID: supplierID, Identifier: identifier}
	if id, ok := r.products[key]; ok {
		return id, nil
	}
	id, ok, err := r.tx.FindProductID(ctx, identifier, supplierID)
	if err != nil {
		return 0, err
	}
	if !ok {
		id, err = r.tx.CreateProduct(ctx, schema.Product{
			SupplierID:  supplierID,
			Identifier:  identifier,
			Description: firstNonEmpty(description, identifier),
		})
		if err != nil {
			return 0, err
		}
	}
	r.products[key] = id
	return id, nil
}

// Shipment deduplicates transport records by transport identifier.
func (r *Resolver) Shipment(ctx context.Context, s schema.Shipment) (int64, error) {
	if id, ok := r.shipments[s.TransportIdentifier]; ok {
		return id, nil
	}
	id, ok, err := r.tx.FindShipmentID(ctx, s.TransportIdentifier)
	if err != nil {
		return 0, err
	}
	if !ok {
		id, err = r.tx.CreateShipment(ctx, s)
		if err != nil {
			return 0, err
		}
	}
	r.shipments[s.TransportIdentifier] = id
	return id, nil
}

// OrderConsignee resolves the (order, consignee, dock) binding.
func (r *Resolver) OrderConsignee(ctx context.Context, oc schema.OrderConsignee) (int64, error) {
	key := orderConsigneeKey{OrderID: oc.OrderID, ConsigneeID: oc.ConsigneeID}
	if oc.DockID != nil {
		key.DockID = *oc.DockID
	}
	if id, ok := r.orderConsignees[key]; ok {
		return id, nil
	}
	id, ok, err := r.tx.FindOrderConsigneeID(ctx, oc)
	if err != nil {
		return 0, err
	}
	if !ok {
		id, err = r.tx.CreateOrderConsignee(ctx, oc)
		if err != nil {
			return 0, err
		}
	}
	r.orderConsignees[key] = id
	return id, nil
}
