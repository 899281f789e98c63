package migrate

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/otoedi/o3mig/internal/schema"
)

// Row is one table row as the clone gateway moves it: column name to value.
// The cloner copies rows verbatim and only rewrites generated-key columns.
type Row map[string]any

// CloneSource reads v3 rows from the store being cloned from.
type CloneSource interface {
	// SelectRows returns the rows of table matching every filter column,
	// ordered by orderBy ascending. Empty result is an empty slice.
	SelectRows(ctx context.Context, table string, filter Row, orderBy string) ([]Row, error)
}

// CloneTarget opens transactions against the store being cloned into.
type CloneTarget interface {
	Begin(ctx context.Context) (CloneTx, error)
}

// CloneTx is one transactional scope on the clone target.
type CloneTx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// InsertRow inserts the row and returns the key generated in idColumn.
	InsertRow(ctx context.Context, table, idColumn string, row Row) (int64, error)
	// InsertRowNoID inserts a row into a table whose generated key nobody
	// references.
	InsertRowNoID(ctx context.Context, table string, row Row) error
}

// CloneSummary is the machine-readable result of one clone run.
type CloneSummary struct {
	SupplierID int64          `json:"supplier_id"`
	Relations  []int64        `json:"relations"`
	Rows       map[string]int `json:"rows"`
}

// Cloner copies an already-migrated supplier graph between two v3 stores:
// the supplier's products, packagings and cumulatives, then per relation the
// documents with their order or despatch subtrees. Generated keys are
// rewritten through the registry; parties, relations, consignees, docks and
// shipments are assumed present in the target with the same keys and are
// referenced verbatim.
//
// The clone is strict only: any failure rolls back the whole run.
type Cloner struct {
	source CloneSource
	target CloneTarget
	log    *logrus.Logger
}

func NewCloner(source CloneSource, target CloneTarget, log *logrus.Logger) *Cloner {
	return &Cloner{source: source, target: target, log: log}
}

func (c *Cloner) Run(ctx context.Context, supplierID int64, relationIDs []int64) (*CloneSummary, error) {
	sum := &CloneSummary{SupplierID: supplierID, Relations: relationIDs, Rows: make(map[string]int)}
	reg := NewRegistry()

	tx, err := c.target.Begin(ctx)
	if err != nil {
		return sum, errors.Wrap(err, "begin clone transaction")
	}
	if err := c.run(ctx, tx, supplierID, relationIDs, reg, sum); err != nil {
		_ = tx.Rollback(ctx)
		return sum, err
	}
	if err := tx.Commit(ctx); err != nil {
		return sum, errors.Wrap(err, "commit clone")
	}
	return sum, nil
}

func (c *Cloner) run(ctx context.Context, tx CloneTx, supplierID int64, relationIDs []int64, reg *Registry, sum *CloneSummary) error {
	if err := c.cloneProducts(ctx, tx, supplierID, reg, sum); err != nil {
		return err
	}
	for _, relationID := range relationIDs {
		c.log.WithField("relation", relationID).Info("cloning relation graph")
		if err := c.cloneRelationGraph(ctx, tx, relationID, reg, sum); err != nil {
			return errors.Wrapf(err, "relation %d", relationID)
		}
	}
	return nil
}

func (c *Cloner) cloneProducts(ctx context.Context, tx CloneTx, supplierID int64, reg *Registry, sum *CloneSummary) error {
	products, err := c.source.SelectRows(ctx, "product", Row{"fk_supplier_id": supplierID}, "product_id")
	if err != nil {
		return errors.Wrap(err, "select products")
	}
	for _, p := range products {
		oldID, err := takeID(p, "product_id")
		if err != nil {
			return err
		}
		newID, err := tx.InsertRow(ctx, "product", "product_id", p)
		if err != nil {
			return errors.Wrapf(err, "insert product %d", oldID)
		}
		reg.Remember(KindProduct, oldID, newID)
		sum.Rows["product"]++

		packs, err := c.source.SelectRows(ctx, "product_packaging", Row{"fk_product_id": oldID}, "product_packaging_id")
		if err != nil {
			return errors.Wrap(err, "select product packagings")
		}
		for _, pk := range packs {
			oldPkID, err := takeID(pk, "product_packaging_id")
			if err != nil {
				return err
			}
			pk["fk_product_id"] = newID
			newPkID, err := tx.InsertRow(ctx, "product_packaging", "product_packaging_id", pk)
			if err != nil {
				return errors.Wrapf(err, "insert packaging %d", oldPkID)
			}
			reg.Remember(KindProductPackaging, oldPkID, newPkID)
			sum.Rows["product_packaging"]++
		}

		cums, err := c.source.SelectRows(ctx, "cumulative", Row{"fk_product_id": oldID}, "cumulative_id")
		if err != nil {
			return errors.Wrap(err, "select cumulatives")
		}
		for _, cu := range cums {
			if _, err := takeID(cu, "cumulative_id"); err != nil {
				return err
			}
			cu["fk_product_id"] = newID
			if err := tx.InsertRowNoID(ctx, "cumulative", cu); err != nil {
				return errors.Wrapf(err, "insert cumulative for product %d", oldID)
			}
			sum.Rows["cumulative"]++
		}
	}
	return nil
}

func (c *Cloner) cloneRelationGraph(ctx context.Context, tx CloneTx, relationID int64, reg *Registry, sum *CloneSummary) error {
	docs, err := c.source.SelectRows(ctx, "document", Row{"fk_pr_id": relationID}, "document_id")
	if err != nil {
		return errors.Wrap(err, "select documents")
	}
	for _, d := range docs {
		oldDocID, err := takeID(d, "document_id")
		if err != nil {
			return err
		}
		docType, _ := asInt64(d["fk_dt_id"])
		newDocID, err := tx.InsertRow(ctx, "document", "document_id", d)
		if err != nil {
			return errors.Wrapf(err, "insert document %d", oldDocID)
		}
		reg.Remember(KindDocument, oldDocID, newDocID)
		sum.Rows["document"]++

		switch int16(docType) {
		case schema.DocTypeOrderFlow:
			if err := c.cloneOrders(ctx, tx, oldDocID, reg, sum); err != nil {
				return errors.Wrapf(err, "document %d orders", oldDocID)
			}
		case schema.DocTypeDespatchFlow:
			if err := c.cloneDespatches(ctx, tx, oldDocID, reg, sum); err != nil {
				return errors.Wrapf(err, "document %d despatches", oldDocID)
			}
			if err := c.cloneQueueEntries(ctx, tx, oldDocID, reg, sum); err != nil {
				return errors.Wrapf(err, "document %d queue", oldDocID)
			}
		}
	}
	return nil
}

func (c *Cloner) cloneOrders(ctx context.Context, tx CloneTx, oldDocID int64, reg *Registry, sum *CloneSummary) error {
	orders, err := c.source.SelectRows(ctx, "order", Row{"fk_document_id": oldDocID}, "order_id")
	if err != nil {
		return errors.Wrap(err, "select orders")
	}
	for _, o := range orders {
		oldID, err := takeID(o, "order_id")
		if err != nil {
			return err
		}
		if err := remapColumn(reg, o, "fk_document_id", KindDocument); err != nil {
			return err
		}
		newID, err := tx.InsertRow(ctx, "order", "order_id", o)
		if err != nil {
			return errors.Wrapf(err, "insert order %d", oldID)
		}
		reg.Remember(KindOrder, oldID, newID)
		sum.Rows["order"]++

		if err := c.cloneOrderConsignees(ctx, tx, oldID, reg, sum); err != nil {
			return errors.Wrapf(err, "order %d", oldID)
		}
		if err := c.cloneOrderLines(ctx, tx, oldID, reg, sum); err != nil {
			return errors.Wrapf(err, "order %d", oldID)
		}
	}
	return nil
}

func (c *Cloner) cloneOrderConsignees(ctx context.Context, tx CloneTx, oldOrderID int64, reg *Registry, sum *CloneSummary) error {
	ocs, err := c.source.SelectRows(ctx, "order_consignee", Row{"fk_order_id": oldOrderID}, "order_consignee_id")
	if err != nil {
		return errors.Wrap(err, "select order consignees")
	}
	for _, oc := range ocs {
		oldID, err := takeID(oc, "order_consignee_id")
		if err != nil {
			return err
		}
		if err := remapColumn(reg, oc, "fk_order_id", KindOrder); err != nil {
			return err
		}
		newID, err := tx.InsertRow(ctx, "order_consignee", "order_consignee_id", oc)
		if err != nil {
			return errors.Wrapf(err, "insert order consignee %d", oldID)
		}
		reg.Remember(KindOrderConsignee, oldID, newID)
		sum.Rows["order_consignee"]++
	}
	return nil
}

func (c *Cloner) cloneOrderLines(ctx context.Context, tx CloneTx, oldOrderID int64, reg *Registry, sum *CloneSummary) error {
	lines, err := c.source.SelectRows(ctx, "order_line", Row{"fk_order_id": oldOrderID}, "order_line_id")
	if err != nil {
		return errors.Wrap(err, "select order lines")
	}
	for _, l := range lines {
		oldID, err := takeID(l, "order_line_id")
		if err != nil {
			return err
		}
		if err := remapColumn(reg, l, "fk_order_id", KindOrder); err != nil {
			return err
		}
		if err := remapColumn(reg, l, "fk_order_consignee_id", KindOrderConsignee); err != nil {
			return err
		}
		if err := remapColumn(reg, l, "fk_product_id", KindProduct); err != nil {
			return err
		}
		newID, err := tx.InsertRow(ctx, "order_line", "order_line_id", l)
		if err != nil {
			return errors.Wrapf(err, "insert order line %d", oldID)
		}
		reg.Remember(KindOrderLine, oldID, newID)
		sum.Rows["order_line"]++

		logRows, err := c.source.SelectRows(ctx, "order_line_log", Row{"fk_ol_id": oldID}, "order_line_log_id")
		if err != nil {
			return errors.Wrap(err, "select order line logs")
		}
		for _, lg := range logRows {
			if _, err := takeID(lg, "order_line_log_id"); err != nil {
				return err
			}
			lg["fk_ol_id"] = newID
			if err := tx.InsertRowNoID(ctx, "order_line_log", lg); err != nil {
				return errors.Wrapf(err, "insert order line log for line %d", oldID)
			}
			sum.Rows["order_line_log"]++
		}
	}
	return nil
}

func (c *Cloner) cloneDespatches(ctx context.Context, tx CloneTx, oldDocID int64, reg *Registry, sum *CloneSummary) error {
	despatches, err := c.source.SelectRows(ctx, "despatch", Row{"fk_document_id": oldDocID}, "despatch_id")
	if err != nil {
		return errors.Wrap(err, "select despatches")
	}
	for _, d := range despatches {
		oldID, err := takeID(d, "despatch_id")
		if err != nil {
			return err
		}
		if err := remapColumn(reg, d, "fk_document_id", KindDocument); err != nil {
			return err
		}
		newID, err := tx.InsertRow(ctx, "despatch", "despatch_id", d)
		if err != nil {
			return errors.Wrapf(err, "insert despatch %d", oldID)
		}
		reg.Remember(KindDespatch, oldID, newID)
		sum.Rows["despatch"]++

		if err := c.cloneDespatchProducts(ctx, tx, oldID, reg, sum); err != nil {
			return errors.Wrapf(err, "despatch %d", oldID)
		}
		if err := c.cloneDespatchPackages(ctx, tx, oldID, reg, sum); err != nil {
			return errors.Wrapf(err, "despatch %d", oldID)
		}
	}
	return nil
}

func (c *Cloner) cloneDespatchProducts(ctx context.Context, tx CloneTx, oldDespatchID int64, reg *Registry, sum *CloneSummary) error {
	dps, err := c.source.SelectRows(ctx, "despatch_product", Row{"fk_despatch_id": oldDespatchID}, "despatch_product_id")
	if err != nil {
		return errors.Wrap(err, "select despatch products")
	}
	for _, dp := range dps {
		oldID, err := takeID(dp, "despatch_product_id")
		if err != nil {
			return err
		}
		if err := remapColumn(reg, dp, "fk_despatch_id", KindDespatch); err != nil {
			return err
		}
		if err := remapColumn(reg, dp, "fk_order_line_id", KindOrderLine); err != nil {
			return err
		}
		if err := remapColumn(reg, dp, "fk_product_id", KindProduct); err != nil {
			return err
		}
		newID, err := tx.InsertRow(ctx, "despatch_product", "despatch_product_id", dp)
		if err != nil {
			return errors.Wrapf(err, "insert despatch product %d", oldID)
		}
		reg.Remember(KindDespatchProduct, oldID, newID)
		sum.Rows["despatch_product"]++
	}
	return nil
}

// cloneDespatchPackages copies the packaging tiers in key order. Outer tiers
// have lower ids than the inner tiers pointing at them, so the outer key is
// always in the registry before an inner row needs remapping.
func (c *Cloner) cloneDespatchPackages(ctx context.Context, tx CloneTx, oldDespatchID int64, reg *Registry, sum *CloneSummary) error {
	pkgs, err := c.source.SelectRows(ctx, "despatch_package", Row{"fk_despatch_id": oldDespatchID}, "despatch_package_id")
	if err != nil {
		return errors.Wrap(err, "select despatch packages")
	}
	for _, pk := range pkgs {
		oldID, err := takeID(pk, "despatch_package_id")
		if err != nil {
			return err
		}
		if err := remapColumn(reg, pk, "fk_despatch_id", KindDespatch); err != nil {
			return err
		}
		if err := remapColumn(reg, pk, "fk_order_line_id", KindOrderLine); err != nil {
			return err
		}
		if err := remapOptionalColumn(reg, pk, "fk_product_packaging_id", KindProductPackaging); err != nil {
			return err
		}
		if err := remapOptionalColumn(reg, pk, "fk_despatch_package_id", KindDespatchPackage); err != nil {
			return err
		}
		newID, err := tx.InsertRow(ctx, "despatch_package", "despatch_package_id", pk)
		if err != nil {
			return errors.Wrapf(err, "insert despatch package %d", oldID)
		}
		reg.Remember(KindDespatchPackage, oldID, newID)
		sum.Rows["despatch_package"]++
	}
	return nil
}

func (c *Cloner) cloneQueueEntries(ctx context.Context, tx CloneTx, oldDocID int64, reg *Registry, sum *CloneSummary) error {
	entries, err := c.source.SelectRows(ctx, "integration_queue", Row{"fk_document_id": oldDocID}, "integration_queue_id")
	if err != nil {
		return errors.Wrap(err, "select integration queue")
	}
	for _, e := range entries {
		if _, err := takeID(e, "integration_queue_id"); err != nil {
			return err
		}
		if err := remapColumn(reg, e, "fk_document_id", KindDocument); err != nil {
			return err
		}
		if err := tx.InsertRowNoID(ctx, "integration_queue", e); err != nil {
			return errors.Wrap(err, "insert queue entry")
		}
		sum.Rows["integration_queue"]++
	}
	return nil
}

// takeID removes the generated-key column from a row and returns it.
func takeID(row Row, column string) (int64, error) {
	v, ok := row[column]
	if !ok {
		return 0, errors.Errorf("row has no %s column", column)
	}
	delete(row, column)
	id, ok := asInt64(v)
	if !ok {
		return 0, errors.Errorf("%s column has unexpected type %T", column, v)
	}
	return id, nil
}

// remapColumn rewrites a foreign-key column through the registry.
func remapColumn(reg *Registry, row Row, column string, kind Kind) error {
	v, ok := row[column]
	if !ok {
		return errors.Errorf("row has no %s column", column)
	}
	old, ok := asInt64(v)
	if !ok {
		return errors.Errorf("%s column has unexpected type %T", column, v)
	}
	id, err := reg.MustResolve(kind, old)
	if err != nil {
		return errors.Wrapf(err, "remap %s", column)
	}
	row[column] = id
	return nil
}

// remapOptionalColumn is remapColumn for nullable foreign keys: null and zero
// pass through unchanged.
func remapOptionalColumn(reg *Registry, row Row, column string, kind Kind) error {
	v, ok := row[column]
	if !ok || v == nil {
		return nil
	}
	old, ok := asInt64(v)
	if !ok {
		return errors.Errorf("%s column has unexpected type %T", column, v)
	}
	if old == 0 {
		return nil
	}
	id, err := reg.MustResolve(kind, old)
	if err != nil {
		return errors.Wrapf(err, "remap %s", column)
	}
	row[column] = id
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
