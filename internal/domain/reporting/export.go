package reporting

import (
	"fmt"
	"io"

	"github.com/360EntSecGroup-Skylar/excelize"

	"github.com/clinica/epicrisis/internal/domain/epicrisis"
	"github.com/clinica/epicrisis/internal/domain/patient"
	"github.com/clinica/epicrisis/pkg/datefmt"
)

// RosterSheet is the worksheet holding one row per patient.
const RosterSheet = "Pacientes"

// XLSXContentType is the MIME type of the roster workbook.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var rosterHeaders = []string{
	"ID",
	"Nombre",
	"Apellido",
	"N° Historia Clínica",
	"Fecha de nacimiento",
	"Sexo",
	"Peso (g)",
	"Edad gestacional",
	"HBsAg",
	"BCG",
	"Pesquisa metabólica",
	"Fecha de egreso",
	"Peso de egreso (g)",
	"% diferencia peso",
}

// WriteRoster writes patients as an xlsx workbook to w.
func WriteRoster(w io.Writer, patients []*patient.Patient) error {
	file := excelize.NewFile()
	file.NewSheet(RosterSheet)
	file.DeleteSheet("Sheet1")

	for i, h := range rosterHeaders {
		file.SetCellValue(RosterSheet, cell(i, 1), h)
	}
	for i, p := range patients {
		appendRosterRow(file, i+2, p)
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("write roster workbook: %w", err)
	}
	return nil
}

func appendRosterRow(file *excelize.File, row int, p *patient.Patient) {
	weightChange := ""
	if p.Discharged() {
		weightChange = epicrisis.WeightChange(p.Weight, p.DischargeWeight)
	}
	values := []interface{}{
		p.ID,
		p.FirstName,
		p.LastName,
		p.MedicalRecordNumber,
		datefmt.FormatDate(p.BirthDate),
		p.Sex,
		p.Weight,
		p.GestationalAge,
		yesNo(p.HepBVaccinated),
		yesNo(p.BCGVaccinated),
		yesNo(p.MetabolicScreening),
		datefmt.FormatDate(p.DischargeDate),
		p.DischargeWeight,
		weightChange,
	}
	for i, v := range values {
		file.SetCellValue(RosterSheet, cell(i, row), v)
	}
}

// cell returns the A1 reference of a zero-based column; the roster never
// goes past column Z.
func cell(col, row int) string {
	return fmt.Sprintf("%c%d", 'A'+col, row)
}

func yesNo(b bool) string {
	if b {
		return "Sí"
	}
	return "No"
}
