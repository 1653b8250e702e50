// Package sheet reads and writes the spreadsheet layout of the equipment list
// and the maintenance log as CSV.
package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/kasuganosora/equipets/game/pet"
	"github.com/kasuganosora/equipets/model"
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("sheet: required column missing")

// Column names after NormalizeHeader.
const (
	ColMachineID     = "machine_id"
	ColMachineName   = "machine_name"
	ColStatusNow     = "status_now"
	ColLevel         = "level"
	ColXP            = "xp"
	ColHealth        = "health"
	ColLastCaredDate = "last_cared_date"
	ColWork          = "作業内容"
	ColAction        = "action"
	ColDate          = "date"
	ColOccurredAt    = "occurred_at"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// NormalizeHeader lowercases h and removes all whitespace.
func NormalizeHeader(h string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, strings.TrimPrefix(h, "\ufeff"))
}

type header map[string]int

func newHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		n := NormalizeHeader(name)
		if _, dup := h[n]; !dup && n != "" {
			h[n] = i
		}
	}
	return h
}

// cell returns the trimmed value of column col, or "" when the column or
// cell is absent.
func (h header) cell(row []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (h header) first(cols ...string) (string, bool) {
	for _, c := range cols {
		if _, ok := h[c]; ok {
			return c, true
		}
	}
	return "", false
}

// ParseDate accepts the date formats found in the sheets. ok is false for
// blank or unparseable input.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func intOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// EquipmentImport is the result of parsing an equipment sheet.
type EquipmentImport struct {
	Rows    []model.Equipment
	Skipped int
}

// ParseEquipment parses an equipment sheet whose first row is the header.
// Blank or non-numeric level, xp and health fall back to 1, 0 and 100.
func ParseEquipment(rows [][]string) (*EquipmentImport, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s (empty sheet)", ErrMissingColumn, ColMachineID)
	}
	h := newHeader(rows[0])
	if _, ok := h[ColMachineID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColMachineID)
	}
	out := &EquipmentImport{}
	for _, row := range rows[1:] {
		id := h.cell(row, ColMachineID)
		if id == "" {
			out.Skipped++
			continue
		}
		eq := model.Equipment{
			MachineID: id,
			Name:      h.cell(row, ColMachineName),
			StatusNow: h.cell(row, ColStatusNow),
			Level:     intOr(h.cell(row, ColLevel), pet.DefaultLevel),
			XP:        intOr(h.cell(row, ColXP), pet.DefaultXP),
			Health:    intOr(h.cell(row, ColHealth), pet.DefaultHealth),
		}
		if t, ok := ParseDate(h.cell(row, ColLastCaredDate)); ok {
			eq.LastCaredAt = &t
		}
		eq.SetRecord(eq.Record())
		out.Rows = append(out.Rows, eq)
	}
	return out, nil
}

// LogImport is the result of parsing a maintenance log sheet.
type LogImport struct {
	Events  []pet.Event
	Skipped int
}

// ParseMaintenanceLog parses a log sheet. Rows without a usable date are
// stamped with now.
func ParseMaintenanceLog(rows [][]string, now time.Time) (*LogImport, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s (empty sheet)", ErrMissingColumn, ColMachineID)
	}
	h := newHeader(rows[0])
	if _, ok := h[ColMachineID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColMachineID)
	}
	actionCol, ok := h.first(ColWork, ColAction)
	if !ok {
		return nil, fmt.Errorf("%w: %s or %s", ErrMissingColumn, ColWork, ColAction)
	}
	dateCol, _ := h.first(ColDate, ColOccurredAt)

	out := &LogImport{}
	for _, row := range rows[1:] {
		ev := pet.Event{
			EquipmentID: h.cell(row, ColMachineID),
			Action:      h.cell(row, actionCol),
			OccurredAt:  now,
		}
		if ev.EquipmentID == "" || ev.Action == "" {
			out.Skipped++
			continue
		}
		if t, ok := ParseDate(h.cell(row, dateCol)); ok {
			ev.OccurredAt = t
		}
		out.Events = append(out.Events, ev)
	}
	return out, nil
}

// ReadCSV reads every record of a CSV stream. Rows may have differing
// lengths.
func ReadCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr.ReadAll()
}

var equipmentColumns = []string{
	ColMachineID, ColMachineName, ColStatusNow, ColLevel, ColXP, ColHealth, ColLastCaredDate,
}

// WriteEquipmentCSV writes rows in the equipment sheet layout.
func WriteEquipmentCSV(w io.Writer, rows []model.Equipment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(equipmentColumns); err != nil {
		return err
	}
	for _, eq := range rows {
		cared := ""
		if eq.LastCaredAt != nil {
			cared = eq.LastCaredAt.Format(time.RFC3339)
		}
		rec := []string{
			eq.MachineID,
			eq.Name,
			eq.StatusNow,
			strconv.Itoa(eq.Level),
			strconv.Itoa(eq.XP),
			strconv.Itoa(eq.Health),
			cared,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
