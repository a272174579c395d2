package reporting

import (
	"math"
	"sort"
	"time"

	"github.com/clinica/epicrisis/internal/domain/patient"
)

// MeasureDefinition defines a roster measure. Measures are evaluated over
// the full patient list so they work the same on every store backend.
type MeasureDefinition struct {
	ID          string                                                     `json:"id"`
	Name        string                                                     `json:"name"`
	Description string                                                     `json:"description"`
	Evaluate    func(patients []*patient.Patient) []map[string]interface{} `json:"-"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
}

// PredefinedMeasures is the list of available roster measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "patient-count",
		Name:        "Patient Count",
		Description: "Total number of newborn records",
		Evaluate: func(patients []*patient.Patient) []map[string]interface{} {
			return []map[string]interface{}{{"total": len(patients)}}
		},
	},
	{
		ID:          "hbsag-coverage",
		Name:        "HBsAg Vaccination Coverage",
		Description: "Share of newborns that received the hepatitis B vaccine",
		Evaluate:    coverage(func(p *patient.Patient) bool { return p.HepBVaccinated }),
	},
	{
		ID:          "bcg-coverage",
		Name:        "BCG Vaccination Coverage",
		Description: "Share of newborns that received the BCG vaccine",
		Evaluate:    coverage(func(p *patient.Patient) bool { return p.BCGVaccinated }),
	},
	{
		ID:          "metabolic-screening-coverage",
		Name:        "Metabolic Screening Coverage",
		Description: "Share of newborns with metabolic screening done",
		Evaluate:    coverage(func(p *patient.Patient) bool { return p.MetabolicScreening }),
	},
	{
		ID:          "discharged",
		Name:        "Discharged Patients",
		Description: "Newborns with discharge data against those still admitted",
		Evaluate: func(patients []*patient.Patient) []map[string]interface{} {
			discharged := 0
			for _, p := range patients {
				if p.Discharged() {
					discharged++
				}
			}
			return []map[string]interface{}{{
				"discharged": discharged,
				"admitted":   len(patients) - discharged,
			}}
		},
	},
	{
		ID:          "sex-distribution",
		Name:        "Sex Distribution",
		Description: "Number of newborns grouped by recorded sex",
		Evaluate: func(patients []*patient.Patient) []map[string]interface{} {
			counts := map[string]int{}
			for _, p := range patients {
				sex := p.Sex
				if sex == "" {
					sex = "unknown"
				}
				counts[sex]++
			}
			keys := make([]string, 0, len(counts))
			for k := range counts {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			results := make([]map[string]interface{}, 0, len(keys))
			for _, k := range keys {
				results = append(results, map[string]interface{}{"sexo": k, "total": counts[k]})
			}
			return results
		},
	},
}

func coverage(done func(p *patient.Patient) bool) func([]*patient.Patient) []map[string]interface{} {
	return func(patients []*patient.Patient) []map[string]interface{} {
		n := 0
		for _, p := range patients {
			if done(p) {
				n++
			}
		}
		return []map[string]interface{}{{
			"done":     n,
			"total":    len(patients),
			"coverage": percent(n, len(patients)),
		}}
	}
}

// percent rounds to two decimals; an empty roster has 0% coverage.
func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)*10000/float64(total)) / 100
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
