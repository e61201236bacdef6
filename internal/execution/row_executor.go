package execution

import (
	"context"
	"fmt"
	"log"

	"flowhub/internal/models"
)

// RowExecutor runs the row blocks (getRow, createRow, updateRow, deleteRow,
// countRows) against the tenant row datastore. The target entity comes from
// block config; row ids, data payloads and count filters come from resolved
// inputs.
type RowExecutor struct {
	rows RowAPI
}

func NewRowExecutor(rows RowAPI) *RowExecutor {
	return &RowExecutor{rows: rows}
}

func (e *RowExecutor) Execute(ctx context.Context, block *models.Block, inputs map[string]any, sess models.Session) (map[string]any, error) {
	entity := getString(block.Config, "entity")
	if entity == "" {
		return nil, NewPermanentError(fmt.Errorf("%s block %q has no entity", block.Type, block.ID))
	}

	switch block.Type {
	case models.BlockTypeGetRow:
		rowID := getString(inputs, "rowId")
		if rowID == "" {
			return nil, NewPermanentError(fmt.Errorf("getRow requires a rowId input"))
		}
		row, err := e.rows.GetRow(ctx, sess.TenantID, entity, rowID)
		if err != nil {
			return nil, ClassifyError(err)
		}
		return map[string]any{"row": row.Data, "rowId": row.ID}, nil

	case models.BlockTypeCreateRow:
		data := getMap(inputs, "data")
		if data == nil {
			data = inputs
		}
		row, err := e.rows.CreateRow(ctx, sess.TenantID, entity, data)
		if err != nil {
			return nil, ClassifyError(err)
		}
		log.Printf("📦 [ROWS] Block '%s': created %s/%s", block.ID, entity, row.ID)
		return map[string]any{"row": row.Data, "rowId": row.ID}, nil

	case models.BlockTypeUpdateRow:
		rowID := getString(inputs, "rowId")
		if rowID == "" {
			return nil, NewPermanentError(fmt.Errorf("updateRow requires a rowId input"))
		}
		data := getMap(inputs, "data")
		if data == nil {
			return nil, NewPermanentError(fmt.Errorf("updateRow requires a data input"))
		}
		row, err := e.rows.UpdateRow(ctx, sess.TenantID, entity, rowID, data)
		if err != nil {
			return nil, ClassifyError(err)
		}
		return map[string]any{"row": row.Data, "rowId": row.ID}, nil

	case models.BlockTypeDeleteRow:
		rowID := getString(inputs, "rowId")
		if rowID == "" {
			return nil, NewPermanentError(fmt.Errorf("deleteRow requires a rowId input"))
		}
		if err := e.rows.DeleteRow(ctx, sess.TenantID, entity, rowID); err != nil {
			return nil, ClassifyError(err)
		}
		return map[string]any{"deleted": true, "rowId": rowID}, nil

	case models.BlockTypeCountRows:
		filter := getMap(inputs, "filter")
		count, err := e.rows.CountRows(ctx, sess.TenantID, entity, filter)
		if err != nil {
			return nil, ClassifyError(err)
		}
		return map[string]any{"count": count}, nil

	default:
		return nil, NewPermanentError(fmt.Errorf("block type %q is not a row operation", block.Type))
	}
}
