package services

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/mfrey/minol-monitor/models"
)

// ReportGenerator renders a consumption overview PDF from the latest
// snapshot: one table row per consumption type with all six extracted
// metrics, plus a QR code linking to the tenant portal.
type ReportGenerator struct {
	outputDir string
	portalURL string
}

func NewReportGenerator(outputDir string) *ReportGenerator {
	return &ReportGenerator{
		outputDir: outputDir,
		portalURL: minolBaseURL,
	}
}

var reportTypeNames = map[string]string{
	"HEIZUNG":    "Heating",
	"WARMWASSER": "Hot Water",
	"KALTWASSER": "Cold Water",
}

var reportColumns = []struct {
	title string
	kind  Extractor
}{
	{"Current Year", ExtractCurrentYear},
	{"Previous Year", ExtractPreviousYear},
	{"Current / m²", ExtractPerAreaCurrent},
	{"Previous / m²", ExtractPerAreaPrevious},
	{"DIN Average", ExtractDINAverage},
	{"Share %", ExtractBuildingShare},
}

// GenerateConsumptionReport writes the PDF and returns its path.
func (rg *ReportGenerator) GenerateConsumptionReport(snapshot *models.Snapshot) (string, error) {
	if snapshot == nil {
		return "", fmt.Errorf("no snapshot available yet")
	}
	if err := os.MkdirAll(rg.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %v", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	// Header
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(0, 102, 153)
	pdf.Cell(0, 10, "Consumption Report")
	pdf.Ln(9)

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(100, 100, 100)
	pdf.Cell(0, 6, "Minol eMonitoring - "+snapshot.FetchedAt.Format("2006-01-02 15:04"))
	pdf.Ln(12)

	// Tenant address block
	info := snapshot.TenantInfo
	if info.AddrStreet != "" || info.Name != "" {
		pdf.SetFont("Arial", "B", 10)
		pdf.SetTextColor(0, 0, 0)
		if info.Name != "" {
			pdf.Cell(0, 5, info.Name)
			pdf.Ln(5)
		}
		pdf.SetFont("Arial", "", 9)
		if info.AddrStreet != "" {
			pdf.Cell(0, 4, info.AddrStreet+" "+info.AddrHouseNum)
			pdf.Ln(4)
			pdf.Cell(0, 4, info.AddrPostalCode+" "+info.AddrCity)
			pdf.Ln(4)
		}
		pdf.Ln(6)
	}

	rg.writeMetricTable(pdf, snapshot)
	rg.writeRoomSection(pdf, snapshot)

	// QR code linking to the portal, bottom of the page
	qrFile := filepath.Join(rg.outputDir, ".portal_qr.png")
	if err := qrcode.WriteFile(rg.portalURL, qrcode.Medium, 280, qrFile); err == nil {
		defer os.Remove(qrFile)
		pdf.Ln(8)
		pdf.ImageOptions(qrFile, 15, pdf.GetY(), 28, 28, false, gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")
		pdf.SetXY(48, pdf.GetY()+10)
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(100, 100, 100)
		pdf.Cell(0, 5, "Scan to open the Minol tenant portal")
	}

	filename := fmt.Sprintf("consumption-report-%s.pdf", time.Now().Format("2006-01-02"))
	outputPath := filepath.Join(rg.outputDir, filename)
	if err := pdf.OutputFileAndClose(outputPath); err != nil {
		return "", fmt.Errorf("failed to write PDF: %v", err)
	}

	log.Printf("[Report Generator] Report written to %s", outputPath)
	return outputPath, nil
}

func (rg *ReportGenerator) writeMetricTable(pdf *gofpdf.Fpdf, snapshot *models.Snapshot) {
	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(230, 240, 250)
	pdf.SetTextColor(0, 0, 0)

	pdf.CellFormat(32, 7, "Type", "1", 0, "L", true, 0, "")
	for _, col := range reportColumns {
		pdf.CellFormat(24.5, 7, col.title, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)

	blocks := []models.DashboardBlock{}
	if snapshot.Dashboard != nil {
		blocks = snapshot.Dashboard.Dashboard
	}
	if len(blocks) == 0 {
		pdf.CellFormat(179, 7, "No dashboard data available", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		return
	}

	for _, block := range blocks {
		typeName := reportTypeNames[block.KeyFigure]
		if typeName == "" {
			typeName = block.KeyFigure
		}
		pdf.CellFormat(32, 7, typeName, "1", 0, "L", false, 0, "")

		for _, col := range reportColumns {
			cell := "-"
			if value, ok := Extract(block, col.kind); ok {
				cell = fmt.Sprintf("%.2f %s", value, unitForMetric(block.KeyFigure, col.kind))
			}
			pdf.CellFormat(24.5, 7, cell, "1", 0, "R", false, 0, "")
		}
		pdf.Ln(-1)
	}
}

func (rg *ReportGenerator) writeRoomSection(pdf *gofpdf.Fpdf, snapshot *models.Snapshot) {
	if len(snapshot.Rooms) == 0 {
		return
	}

	pdf.Ln(8)
	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(0, 6, "Per-Room Meters")
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(230, 240, 250)
	pdf.CellFormat(40, 6, "Type", "1", 0, "L", true, 0, "")
	pdf.CellFormat(45, 6, "Room", "1", 0, "L", true, 0, "")
	pdf.CellFormat(45, 6, "Meter", "1", 0, "L", true, 0, "")
	pdf.CellFormat(49, 6, "Consumption", "1", 0, "R", true, 0, "")
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for consType, meters := range snapshot.Rooms {
		typeName := reportTypeNames[consType]
		if typeName == "" {
			typeName = consType
		}
		for _, meter := range meters {
			cell := "-"
			if value, ok := RoomConsumption(meter); ok {
				cell = fmt.Sprintf("%.2f %s", value, meter.Unit)
			}
			pdf.CellFormat(40, 6, typeName, "1", 0, "L", false, 0, "")
			pdf.CellFormat(45, 6, meter.Raum, "1", 0, "L", false, 0, "")
			pdf.CellFormat(45, 6, meter.GerNr, "1", 0, "L", false, 0, "")
			pdf.CellFormat(49, 6, cell, "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
	}
}
