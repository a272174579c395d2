package patient

import (
	"fmt"
	"strings"
	"time"

	"github.com/clinica/epicrisis/pkg/datefmt"
)

// SchemaVersion is the storage layout version. Bump it only when the
// collection or its indexes must be recreated.
const SchemaVersion = 1

// Patient is a neonatal record. Clinical attributes are opaque to the store;
// only the names and the medical record number are read by it.
type Patient struct {
	ID                  int64  `json:"id,omitempty"`
	FirstName           string `json:"nombre"`
	LastName            string `json:"apellido"`
	MedicalRecordNumber string `json:"numeroHistoriaClinica"`

	BirthDate         string `json:"fechaNacimiento"`
	BirthTime         string `json:"horaNacimiento"`
	Sex               string `json:"sexo"`
	Weight            string `json:"peso"`
	Length            string `json:"talla"`
	HeadCircumference string `json:"perimetroCefalico"`
	GestationalAge    string `json:"edadGestacional"`
	Apgar             string `json:"apgar"`
	DaysOfLife        string `json:"ddv"`
	HC                string `json:"hc"`
	Wristband         string `json:"pulsera"`

	DeliveryMode    string `json:"nacidoPor"`
	Presentation    string `json:"presentacion"`
	AmnioticFluid   string `json:"liquidoAmniotico"`
	MembraneRupture string `json:"rupturaMembranas"`
	Classification  string `json:"clasificacion"`
	Origin          string `json:"procedencia"`
	Ward            string `json:"sectorInternacion"`

	Obstetrician  string `json:"obstetra"`
	Nurse         string `json:"enfermera"`
	Neonatologist string `json:"neonatologo"`

	HepBVaccinated     bool   `json:"vacunacionHbsag"`
	HepBLot            string `json:"loteHbsag"`
	HepBDate           string `json:"fechaHbsag"`
	BCGVaccinated      bool   `json:"vacunacionBcg"`
	BCGLot             string `json:"loteBcg"`
	BCGDate            string `json:"fechaBcg"`
	MetabolicScreening bool   `json:"pesquisaMetabolica"`
	ScreeningProtocol  string `json:"protocoloPesquisa"`
	ScreeningDate      string `json:"fechaPesquisa"`
	ScreeningTime      string `json:"horaPesquisa"`

	BloodGroup         string `json:"grupoFactor"`
	NewbornBloodGroup  string `json:"grupoFactorRn"`
	MaternalBloodGroup string `json:"grupoFactorMaterno"`
	DirectCoombs       string `json:"pcd"`
	TotalBilirubin     string `json:"bilirrubinaTotalValor"`
	DirectBilirubin    string `json:"bilirrubinaDirectaValor"`
	Hematocrit         string `json:"hematocritoValor"`
	LabNotes           string `json:"laboratorios"`
	MaternalHistory    string `json:"datosMaternos"`

	SarsCov2      string `json:"sarsCov2"`
	Chagas        string `json:"chagas"`
	Toxoplasmosis string `json:"toxoplasmosis"`
	HIV           string `json:"hiv"`
	VDRL          string `json:"vdrl"`
	HepatitisB    string `json:"hepatitisB"`
	GBS           string `json:"egb"`

	DischargeDate          string `json:"fechaEgreso"`
	DischargeTime          string `json:"horaEgreso"`
	DischargeWeight        string `json:"pesoEgreso"`
	DischargeNurse         string `json:"enfermeraEgreso"`
	DischargeNeonatologist string `json:"neonatologoEgreso"`

	CreatedAt time.Time `json:"createdAt"`
}

// FullName is the "{given} {family}" string search matches against.
func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Discharged reports whether any discharge data was recorded.
func (p *Patient) Discharged() bool {
	return p.DischargeDate != "" || p.DischargeWeight != ""
}

// NormalizeQuery lowercases and trims a free-text search query.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// MatchesQuery reports whether p matches an already normalized query: an
// empty query matches everything, otherwise the query must be a substring of
// the lowercased full name or of the lowercased medical record number.
func MatchesQuery(p *Patient, normalized string) bool {
	if normalized == "" {
		return true
	}
	if strings.Contains(strings.ToLower(p.FullName()), normalized) {
		return true
	}
	return strings.Contains(strings.ToLower(p.MedicalRecordNumber), normalized)
}

// AgeLabel renders the age at now as whole years, or whole months under a
// year, or days under a month.
func AgeLabel(birthDate string, now time.Time) string {
	born, ok := datefmt.Parse(birthDate)
	if !ok {
		return "Fecha no válida"
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if today.Before(born) {
		return "Fecha no válida"
	}

	months := (today.Year()-born.Year())*12 + int(today.Month()) - int(born.Month())
	if today.Day() < born.Day() {
		months--
	}

	switch {
	case months >= 12:
		return fmt.Sprintf("%d años", months/12)
	case months > 0:
		return fmt.Sprintf("%d meses", months)
	default:
		return fmt.Sprintf("%d días", int(today.Sub(born).Hours()/24))
	}
}
