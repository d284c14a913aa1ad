package export

import (
	"bytes"
	"testing"
	"time"

	"shopapi/internal/domain/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"
)

func TestWriteProducts(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	products := []model.Product{
		{ID: 1, Name: "Auriculares", Price: decimal.RequireFromString("59.99"), Stock: 10, CategoryID: 7, CreatedAt: now, UpdatedAt: now},
		{ID: 2, Name: "Camiseta", Price: decimal.RequireFromString("19.9"), Stock: 50, CategoryID: 8, CreatedAt: now, UpdatedAt: now},
	}

	var buf bytes.Buffer
	err := NewProductXLSXExporter().WriteProducts(&buf, products, map[int64]string{7: "Electrónica", 8: "Ropa"})
	require.NoError(t, err)

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)

	sheet := f.Sheets[0]
	assert.Equal(t, "Products", sheet.Name)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, "Name", sheet.Rows[0].Cells[1].Value)
	assert.Equal(t, "Auriculares", sheet.Rows[1].Cells[1].Value)
	assert.Equal(t, "59.99", sheet.Rows[1].Cells[3].Value)
	assert.Equal(t, "19.90", sheet.Rows[2].Cells[3].Value)
	assert.Equal(t, "Ropa", sheet.Rows[2].Cells[6].Value)
	assert.Equal(t, "2026-01-02 03:04:05", sheet.Rows[1].Cells[7].Value)
}
