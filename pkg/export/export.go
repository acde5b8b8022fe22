// Package export renders endpoint statistics as downloadable XLSX
// spreadsheets and PDF availability reports.
package export

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/creker7/netvigil/pkg/history"
	"github.com/creker7/netvigil/pkg/models"
)

const statsSheet = "Statistics"

// StatsXLSX writes a spreadsheet with one row per endpoint: status,
// availability, disconnects, downtime and the temperature/bandwidth
// aggregates that exist for it.
func StatsXLSX(w io.Writer, endpoints []models.Endpoint, stats map[string]*history.EndpointStats) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(statsSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{
		"Name", "Target", "Site", "Status", "Availability %",
		"Disconnects", "Downtime", "Avg Temp C", "Max Temp C",
		"Avg In Mbps", "Avg Out Mbps", "Peak In Mbps", "Peak Out Mbps",
	}

	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(statsSheet, cell, h); err != nil {
			return err
		}
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		end, _ := excelize.CoordinatesToCellName(len(headers), 1)
		_ = f.SetCellStyle(statsSheet, "A1", end, style)
	}

	for row, ep := range sortedByName(endpoints) {
		values := []interface{}{
			ep.Name, ep.Target, ep.Site, string(ep.Status),
		}

		if st, ok := stats[ep.ID]; ok {
			values = append(values,
				st.AvailabilityPct, st.Disconnects, st.TotalDowntime.Round(time.Second).String())
			values = append(values, optionals(st.AvgTemperature, st.MaxTemperature,
				st.AvgInMbps, st.AvgOutMbps, st.PeakInMbps, st.PeakOutMbps)...)
		}

		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(statsSheet, cell, v); err != nil {
				return err
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write spreadsheet: %w", err)
	}

	return nil
}

func optionals(vals ...*float64) []interface{} {
	out := make([]interface{}, 0, len(vals))

	for _, v := range vals {
		if v == nil {
			out = append(out, "")
			continue
		}

		out = append(out, *v)
	}

	return out
}

// AvailabilityPDF writes the printable availability report: a summary line
// and one table row per endpoint.
func AvailabilityPDF(w io.Writer, siteName string, endpoints []models.Endpoint,
	stats map[string]*history.EndpointStats, window time.Duration) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, fmt.Sprintf("%s availability report", siteName))
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 8, fmt.Sprintf("Window: last %s, generated %s",
		window, time.Now().Format("2006-01-02 15:04")))
	pdf.Ln(12)

	offline := 0

	for i := range endpoints {
		if endpoints[i].Status == models.StatusOffline && !endpoints[i].Excluded {
			offline++
		}
	}

	pdf.Cell(0, 8, fmt.Sprintf("%d endpoint(s), %d offline", len(endpoints), offline))
	pdf.Ln(10)

	widths := []float64{55, 45, 25, 25, 40}
	header := []string{"Endpoint", "Target", "Status", "Avail %", "Downtime"}

	pdf.SetFont("Helvetica", "B", 9)

	for i, h := range header {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", false, 0, "")
	}

	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 9)

	for _, ep := range sortedByName(endpoints) {
		name := ep.Name
		if name == "" {
			name = ep.Target
		}

		avail, downtime := "", ""

		if st, ok := stats[ep.ID]; ok {
			avail = fmt.Sprintf("%.2f", st.AvailabilityPct)

			if st.TotalDowntime > 0 {
				downtime = st.TotalDowntime.Round(time.Second).String()
			}
		}

		cells := []string{name, ep.Target, string(ep.Status), avail, downtime}

		for i, c := range cells {
			pdf.CellFormat(widths[i], 6, c, "1", 0, "L", false, 0, "")
		}

		pdf.Ln(-1)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render PDF: %w", err)
	}

	return nil
}

func sortedByName(endpoints []models.Endpoint) []models.Endpoint {
	out := make([]models.Endpoint, len(endpoints))
	copy(out, endpoints)

	sort.SliceStable(out, func(i, j int) bool {
		ni, nj := out[i].Name, out[j].Name
		if ni == "" {
			ni = out[i].Target
		}

		if nj == "" {
			nj = out[j].Target
		}

		return ni < nj
	})

	return out
}
