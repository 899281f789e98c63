package migrate

// Kind names an entity family in the ID translation registry.
type Kind string

const (
	KindParty            Kind = "party"
	KindDocument         Kind = "document"
	KindOrder            Kind = "order"
	KindOrderConsignee   Kind = "order_consignee"
	KindProduct          Kind = "product"
	KindProductPackaging Kind = "product_packaging"
	KindOrderLine        Kind = "order_line"
	KindShipment         Kind = "shipment"
	KindDespatch         Kind = "despatch"
	KindDespatchProduct  Kind = "despatch_product"
	KindDespatchPackage  Kind = "despatch_package"
)

// Registry maps legacy identifiers to the keys generated for them in the
// target store during this run. One instance is created per run and threaded
// explicitly through the traversal; it is never shared across runs.
//
// Callers may only Resolve ids they migrated earlier in the same traversal;
// the fixed parent-before-child order is what makes that safe.
type Registry struct {
	ids map[Kind]map[int64]int64
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[Kind]map[int64]int64)}
}

// Remember records the target key generated for a legacy id. It must only be
// called after the target row was actually created: a failed creation is
// never remembered.
func (r *Registry) Remember(kind Kind, legacyID, newID int64) {
	m, ok := r.ids[kind]
	if !ok {
		m = make(map[int64]int64)
		r.ids[kind] = m
	}
	m[legacyID] = newID
}

// Resolve returns the target key for a legacy id, if one was recorded.
func (r *Registry) Resolve(kind Kind, legacyID int64) (int64, bool) {
	id, ok := r.ids[kind][legacyID]
	return id, ok
}

// MustResolve is Resolve for ids the caller requires to exist; a miss is an
// UnresolvedReferenceError.
func (r *Registry) MustResolve(kind Kind, legacyID int64) (int64, error) {
	id, ok := r.Resolve(kind, legacyID)
	if !ok {
		return 0, &UnresolvedReferenceError{Kind: kind, LegacyID: legacyID}
	}
	return id, nil
}

// Merge copies every mapping from other into r. The traversal stages the
// mappings of an uncommitted unit of work in a scratch registry and merges
// them only once the unit commits, so a rolled-back row is never resolvable.
func (r *Registry) Merge(other *Registry) {
	for kind, m := range other.ids {
		for legacyID, newID := range m {
			r.Remember(kind, legacyID, newID)
		}
	}
}

// Len reports how many ids are recorded for a kind.
func (r *Registry) Len(kind Kind) int {
	return len(r.ids[kind])
}
