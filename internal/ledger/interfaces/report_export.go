package interfaces

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"meterbook/internal/analytics/domain/usage"
	ledger "meterbook/internal/ledger/domain"
)

const (
	pdfColWidth  = 108.0
	pdfRowHeight = 28.8
	pdfMargin    = 36.0
)

var readingPalette = [][3]int{
	{0, 255, 255},
	{173, 216, 230},
	{230, 230, 250},
}

// BuildReportPDF renders the table on a single page sized to fit it.
func BuildReportPDF(table ReportTable) ([]byte, error) {
	width := pdfMargin*2 + float64(len(table.Columns))*pdfColWidth
	height := pdfMargin*2 + float64(len(table.Rows)+1)*pdfRowHeight
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: width, Ht: height},
	})
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 9)

	pdf.SetFillColor(211, 211, 211)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetXY(pdfMargin, pdfMargin)
	for _, col := range table.Columns {
		pdf.CellFormat(pdfColWidth, pdfRowHeight, col, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	index := make(map[string]int, table.Tenants.Len())
	for i, name := range table.Tenants.Names() {
		index[name] = i
	}
	for _, row := range table.Rows {
		tint, tinted := [3]int{}, false
		if row.Type == ledger.TypeReading {
			if i, ok := index[row.Tenant]; ok {
				tint, tinted = readingPalette[i%len(readingPalette)], true
			}
		}
		pdf.SetX(pdfMargin)
		for col, cell := range row.Cells {
			fill := tinted
			pdf.SetTextColor(0, 0, 0)
			switch {
			case col == row.LowCol:
				pdf.SetFillColor(255, 69, 0)
				pdf.SetTextColor(255, 255, 255)
				fill = true
			case col == row.HighCol:
				pdf.SetFillColor(0, 128, 0)
				pdf.SetTextColor(255, 255, 255)
				fill = true
			case tinted:
				pdf.SetFillColor(tint[0], tint[1], tint[2])
			}
			pdf.CellFormat(pdfColWidth, pdfRowHeight, cell, "1", 0, "L", fill, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReportXLSX renders the table on a "ledger" sheet and the current
// balances with usage headline numbers on a "summary" sheet.
func BuildReportXLSX(table ReportTable, state *ledger.State, metrics usage.Metrics) ([]byte, error) {
	f := excelize.NewFile()
	ledgerSheet := "ledger"
	summarySheet := "summary"
	f.SetSheetName("Sheet1", ledgerSheet)
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	for i, col := range table.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(ledgerSheet, cell, col)
	}
	for r, row := range table.Rows {
		for c, value := range row.Cells {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(ledgerSheet, cell, value)
		}
	}

	_ = f.SetCellValue(summarySheet, "A1", "Tenant")
	_ = f.SetCellValue(summarySheet, "B1", "Balance")
	_ = f.SetCellValue(summarySheet, "C1", "Usage")
	_ = f.SetCellValue(summarySheet, "D1", "Monthly estimate")
	row := 2
	for _, name := range table.Tenants.Names() {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), name)
		if state != nil {
			_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), state.Balances.Of(name).InexactFloat64())
		}
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), metrics.UsagePerTenant[name])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), metrics.MonthlyAvgPerTenant[name])
		row++
	}
	row++
	headline := map[string]float64{
		"Total usage":       metrics.TotalUsage,
		"Recharges total":   metrics.RechargesTotal,
		"Per unit cost":     metrics.PerUnitCost,
		"Monthly avg total": metrics.MonthlyAvgTotal,
	}
	labels := make([]string, 0, len(headline))
	for label := range headline {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), label)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), headline[label])
		row++
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
