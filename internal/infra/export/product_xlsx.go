package export

import (
	"io"

	"shopapi/internal/domain/model"

	"github.com/tealeg/xlsx"
)

const ProductsContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var productHeaders = []string{"ID", "Name", "Description", "Price", "Stock", "CategoryID", "Category", "CreatedAt", "UpdatedAt"}

type ProductXLSXExporter struct{}

func NewProductXLSXExporter() *ProductXLSXExporter {
	return &ProductXLSXExporter{}
}

// WriteProducts は1シート（Products）のxlsxを書き出す
func (ProductXLSXExporter) WriteProducts(w io.Writer, products []model.Product, categoryNames map[int64]string) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Products")
	if err != nil {
		return err
	}

	// Header row
	header := sheet.AddRow()
	for _, h := range productHeaders {
		header.AddCell().SetString(h)
	}

	for _, p := range products {
		row := sheet.AddRow()
		row.AddCell().SetInt64(p.ID)
		row.AddCell().SetString(p.Name)
		row.AddCell().SetString(p.Description)
		// 小数の誤差を出さないため文字列で持つ
		row.AddCell().SetString(p.Price.StringFixed(2))
		row.AddCell().SetInt64(p.Stock)
		row.AddCell().SetInt64(p.CategoryID)
		row.AddCell().SetString(categoryNames[p.CategoryID])
		row.AddCell().SetString(p.CreatedAt.Format("2006-01-02 15:04:05"))
		row.AddCell().SetString(p.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	return file.Write(w)
}
