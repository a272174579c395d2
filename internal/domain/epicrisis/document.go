// Package epicrisis builds the printable birth and discharge summary of a
// patient record.
package epicrisis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinica/epicrisis/internal/domain/patient"
	"github.com/clinica/epicrisis/pkg/datefmt"
)

const (
	notSpecified   = "No especificado"
	notSpecifiedF  = "No especificada"
	weightCalcFail = "Error en cálculo"
)

// Row is one label/value line of a section.
type Row struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type Section struct {
	Title string `json:"title"`
	Rows  []Row  `json:"rows"`
}

// Document is the rendered-independent form of the summary. The JSON and PDF
// outputs are both produced from it.
type Document struct {
	ID        uuid.UUID `json:"id"`
	PatientID int64     `json:"patient_id"`
	Clinic    string    `json:"clinic,omitempty"`
	Title     string    `json:"title"`
	Subtitle  string    `json:"subtitle"`
	Sections  []Section `json:"sections"`
	Footer    string    `json:"footer"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Build lays out p into the summary sections. Sections that depend on data
// that was never recorded (discharge, maternal serologies) are left out.
func Build(p *patient.Patient, clinic string, now time.Time) *Document {
	doc := &Document{
		ID:        uuid.New(),
		PatientID: p.ID,
		Clinic:    clinic,
		Title:     "CERTIFICADO DE NACIMIENTO",
		Subtitle:  "Documento oficial de registro de nacimiento",
		IssuedAt:  now,
		Footer: "Este documento es un certificado oficial de nacimiento. Fecha de emisión: " +
			now.Format("02/01/2006"),
	}

	doc.Sections = append(doc.Sections,
		Section{Title: "INFORMACIÓN DEL RECIÉN NACIDO", Rows: []Row{
			{"Nombre completo", strings.TrimSpace(p.FullName())},
			{"Fecha de nacimiento", birthLine(p)},
			{"Sexo", sexLabel(p.Sex)},
			{"N° Historia Clínica", p.MedicalRecordNumber},
		}},
		Section{Title: "MEDIDAS ANTROPOMÉTRICAS", Rows: []Row{
			{"Peso", withUnit(p.Weight, "gramos")},
			{"Talla", withUnit(p.Length, "cm")},
			{"Perímetro cefálico", withUnit(p.HeadCircumference, "cm")},
		}},
		Section{Title: "DATOS DEL NACIMIENTO", Rows: []Row{
			{"Edad gestacional", or(p.GestationalAge, notSpecifiedF)},
			{"APGAR", or(p.Apgar, notSpecified)},
			{"Nacido por", or(p.DeliveryMode, notSpecified)},
			{"Presentación", or(p.Presentation, notSpecifiedF)},
			{"Líquido amniótico", or(p.AmnioticFluid, notSpecified)},
			{"Clasificación", or(p.Classification, notSpecifiedF)},
		}},
		vaccinationSection(p),
		Section{Title: "DATOS CLÍNICOS", Rows: []Row{
			{"Grupo y factor RN", or(or(p.NewbornBloodGroup, p.BloodGroup), notSpecified)},
			{"Grupo y factor materno", or(p.MaternalBloodGroup, notSpecified)},
			{"PCD", or(p.DirectCoombs, notSpecified)},
			{"Bilirrubina Total", withUnit(p.TotalBilirubin, "mg/dl")},
			{"Bilirrubina Directa", withUnit(p.DirectBilirubin, "mg/dl")},
			{"Hematocrito", withUnit(p.Hematocrit, "%")},
		}},
	)

	if s, ok := serologySection(p); ok {
		doc.Sections = append(doc.Sections, s)
	}

	if p.Discharged() {
		doc.Sections = append(doc.Sections, Section{Title: "DATOS DE EGRESO", Rows: []Row{
			{"Fecha de egreso", or(datefmt.FormatDate(p.DischargeDate), notSpecifiedF)},
			{"Hora de egreso", or(p.DischargeTime, notSpecifiedF)},
			{"Peso de egreso", withUnit(p.DischargeWeight, "g")},
			{"% diferencia peso", WeightChange(p.Weight, p.DischargeWeight)},
			{"DDV", DaysOfLife(p)},
			{"Enfermera", or(p.DischargeNurse, notSpecifiedF)},
			{"Neonatólogo/a", or(p.DischargeNeonatologist, notSpecified)},
		}})
	}

	doc.Sections = append(doc.Sections, Section{Title: "EQUIPO MÉDICO", Rows: []Row{
		{"Obstetra", or(p.Obstetrician, notSpecified)},
		{"Neonatólogo", or(p.Neonatologist, notSpecified)},
		{"Enfermera", or(p.Nurse, notSpecified)},
	}})

	return doc
}

func vaccinationSection(p *patient.Patient) Section {
	s := Section{Title: "VACUNACIÓN"}
	s.Rows = append(s.Rows, Row{"Vacunación HBsAg", yesNo(p.HepBVaccinated)})
	if p.HepBVaccinated {
		s.Rows = append(s.Rows,
			Row{"Lote HBsAg", or(p.HepBLot, notSpecified)},
			Row{"Fecha HBsAg", or(datefmt.FormatDate(p.HepBDate), notSpecifiedF)},
		)
	}
	s.Rows = append(s.Rows, Row{"Vacunación BCG", yesNo(p.BCGVaccinated)})
	if p.BCGVaccinated {
		s.Rows = append(s.Rows,
			Row{"Lote BCG", or(p.BCGLot, notSpecified)},
			Row{"Fecha BCG", or(datefmt.FormatDate(p.BCGDate), notSpecifiedF)},
		)
	}
	s.Rows = append(s.Rows, Row{"Pesquisa metabólica", yesNo(p.MetabolicScreening)})
	if p.MetabolicScreening {
		when := or(datefmt.FormatDate(p.ScreeningDate), notSpecifiedF)
		if p.ScreeningTime != "" {
			when += " " + p.ScreeningTime
		}
		s.Rows = append(s.Rows,
			Row{"Protocolo", or(p.ScreeningProtocol, notSpecified)},
			Row{"Fecha y hora", when},
		)
	}
	return s
}

func serologySection(p *patient.Patient) (Section, bool) {
	s := Section{Title: "SEROLOGÍAS MATERNAS"}
	for _, r := range []Row{
		{"SARS-CoV-2", p.SarsCov2},
		{"Chagas", p.Chagas},
		{"Toxoplasmosis", p.Toxoplasmosis},
		{"HIV", p.HIV},
		{"VDRL", p.VDRL},
		{"Hepatitis B", p.HepatitisB},
		{"EGB", p.GBS},
	} {
		if r.Value != "" {
			s.Rows = append(s.Rows, r)
		}
	}
	return s, len(s.Rows) > 0
}

// WeightChange is the discharge weight as a percentage change from birth
// weight, "-" when either is missing.
func WeightChange(birth, discharge string) string {
	if birth == "" || discharge == "" {
		return "-"
	}
	b, errB := parseNumber(birth)
	d, errD := parseNumber(discharge)
	if errB != nil || errD != nil || b == 0 {
		return weightCalcFail
	}
	return fmt.Sprintf("%.2f%%", (d*100)/b-100)
}

// DaysOfLife is discharge date minus birth date in whole days. When either
// date is missing or unparsable the stored ddv value is used.
func DaysOfLife(p *patient.Patient) string {
	born, okB := datefmt.Parse(p.BirthDate)
	left, okD := datefmt.Parse(p.DischargeDate)
	if okB && okD && !left.Before(born) {
		return strconv.Itoa(int(left.Sub(born).Hours() / 24))
	}
	return or(p.DaysOfLife, notSpecified)
}

func birthLine(p *patient.Patient) string {
	date := datefmt.FormatDate(p.BirthDate)
	switch {
	case date == "":
		return notSpecifiedF
	case p.BirthTime == "":
		return date
	default:
		return date + " - " + p.BirthTime + " hs"
	}
}

func sexLabel(s string) string {
	switch s {
	case "M":
		return "Masculino"
	case "F":
		return "Femenino"
	}
	return or(s, notSpecified)
}

// leadingNumber matches the numeric prefix of a hand-typed measurement such
// as "3250 g" or "3,1kg".
var leadingNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// parseNumber reads the leading number of s and ignores any trailing unit.
// A comma is taken as the decimal separator.
func parseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	num := leadingNumber.FindString(s)
	if num == "" {
		return 0, fmt.Errorf("no number in %q", s)
	}
	return strconv.ParseFloat(num, 64)
}

func yesNo(b bool) string {
	if b {
		return "Sí"
	}
	return "No"
}

func withUnit(v, unit string) string {
	if v == "" {
		return notSpecified
	}
	return v + " " + unit
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
