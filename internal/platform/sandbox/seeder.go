// Package sandbox generates synthetic newborn records for demos and local
// development. Output is reproducible for a given seed.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/clinica/epicrisis/internal/domain/patient"
)

// SeedConfig controls how many records are generated.
type SeedConfig struct {
	PatientCount int `json:"patientCount"`
	// DischargedPercent is the share of records with discharge data, 0-100.
	DischargedPercent int   `json:"dischargedPercent"`
	Seed              int64 `json:"seed"`
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		PatientCount:      25,
		DischargedPercent: 70,
	}
}

// SeedResult summarizes a seed run.
type SeedResult struct {
	Patients int           `json:"patients"`
	Skipped  int           `json:"skipped"`
	FirstID  int64         `json:"firstId,omitempty"`
	LastID   int64         `json:"lastId,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ---------------------------------------------------------------------------
// Pools
// ---------------------------------------------------------------------------

var (
	firstNamesMale   = []string{"Mateo", "Santiago", "Benjamín", "Thiago", "Joaquín", "Bautista", "Felipe", "Lautaro", "Tomás", "Valentín"}
	firstNamesFemale = []string{"Sofía", "Emma", "Olivia", "Martina", "Isabella", "Catalina", "Mía", "Valentina", "Julieta", "Ámbar"}
	lastNames        = []string{"González", "Rodríguez", "Gómez", "Fernández", "López", "Díaz", "Martínez", "Pérez", "García", "Sánchez", "Romero", "Sosa"}

	deliveryModes   = []string{"Parto vaginal", "Cesárea"}
	presentations   = []string{"Cefálica", "Podálica"}
	amnioticFluids  = []string{"Claro", "Meconial fluido", "Meconial espeso"}
	classifications = []string{"RNT/PAEG", "RNT/PEG", "RNT/PGEG", "RNPT/PAEG"}
	origins         = []string{"Sala de partos", "Quirófano", "Derivación externa"}
	wards           = []string{"Internación conjunta", "Neonatología", "Terapia intermedia"}
	bloodGroups     = []string{"0+", "0-", "A+", "A-", "B+", "AB+"}
	serologyResults = []string{"No reactivo", "No reactivo", "No reactivo", "Reactivo", ""}
	obstetricians   = []string{"Dra. Ibáñez", "Dr. Herrera", "Dra. Castro"}
	nurses          = []string{"Lic. Medina", "Lic. Ríos", "Enf. Acosta"}
	neonatologists  = []string{"Dra. Benítez", "Dr. Aguirre", "Dra. Molina"}
)

// ---------------------------------------------------------------------------
// DataGenerator
// ---------------------------------------------------------------------------

// DataGenerator produces deterministic synthetic newborn records.
type DataGenerator struct {
	rng     *rand.Rand
	now     time.Time
	counter int
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen. Birth dates fall in the 30 days before now.
func NewDataGenerator(seed int64, now time.Time) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{
		rng: rand.New(rand.NewSource(seed)),
		now: now,
	}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) between(lo, hi int) int {
	return lo + g.rng.Intn(hi-lo+1)
}

func (g *DataGenerator) clock() string {
	return fmt.Sprintf("%02d:%02d", g.rng.Intn(24), g.rng.Intn(60))
}

func (g *DataGenerator) lot() string {
	return fmt.Sprintf("L%04d-%c", g.rng.Intn(10000), 'A'+rune(g.rng.Intn(6)))
}

// GeneratePatient produces one record without an id. Discharge data is filled
// with the given probability in percent.
func (g *DataGenerator) GeneratePatient(dischargedPercent int) *patient.Patient {
	g.counter++

	p := &patient.Patient{
		LastName:            g.pick(lastNames),
		MedicalRecordNumber: fmt.Sprintf("HC-%06d", g.rng.Intn(1000000)),
		BirthTime:           g.clock(),
		Wristband:           strconv.Itoa(1000 + g.counter),
		Weight:              strconv.Itoa(g.between(2400, 4300)),
		Length:              strconv.Itoa(g.between(45, 54)),
		HeadCircumference:   strconv.Itoa(g.between(32, 37)),
		GestationalAge:      strconv.Itoa(g.between(35, 41)),
		Apgar:               fmt.Sprintf("%d/%d", g.between(6, 9), g.between(8, 10)),
		DeliveryMode:        g.pick(deliveryModes),
		Presentation:        g.pick(presentations),
		AmnioticFluid:       g.pick(amnioticFluids),
		MembraneRupture:     fmt.Sprintf("%d h", g.rng.Intn(24)),
		Classification:      g.pick(classifications),
		Origin:              g.pick(origins),
		Ward:                g.pick(wards),
		Obstetrician:        g.pick(obstetricians),
		Nurse:               g.pick(nurses),
		Neonatologist:       g.pick(neonatologists),
		MaternalBloodGroup:  g.pick(bloodGroups),
		NewbornBloodGroup:   g.pick(bloodGroups),
		DirectCoombs:        "Negativa",
		SarsCov2:            g.pick(serologyResults),
		Chagas:              g.pick(serologyResults),
		Toxoplasmosis:       g.pick(serologyResults),
		HIV:                 g.pick(serologyResults),
		VDRL:                g.pick(serologyResults),
		HepatitisB:          g.pick(serologyResults),
		GBS:                 g.pick(serologyResults),
	}
	if g.rng.Intn(2) == 0 {
		p.FirstName, p.Sex = g.pick(firstNamesMale), "M"
	} else {
		p.FirstName, p.Sex = g.pick(firstNamesFemale), "F"
	}
	p.HC = p.MedicalRecordNumber

	birth := g.now.AddDate(0, 0, -g.between(3, 30))
	// Mix input styles the way records typed by hand do.
	if g.rng.Intn(3) == 0 {
		p.BirthDate = birth.Format("02/01/2006")
	} else {
		p.BirthDate = birth.Format("2006-01-02")
	}

	if g.rng.Intn(10) < 9 {
		p.HepBVaccinated = true
		p.HepBLot = g.lot()
		p.HepBDate = birth.Format("2006-01-02")
	}
	if g.rng.Intn(10) < 8 {
		p.BCGVaccinated = true
		p.BCGLot = g.lot()
		p.BCGDate = birth.AddDate(0, 0, 1).Format("2006-01-02")
	}
	if g.rng.Intn(10) < 7 {
		p.MetabolicScreening = true
		p.ScreeningProtocol = fmt.Sprintf("P-%05d", g.rng.Intn(100000))
		p.ScreeningDate = birth.AddDate(0, 0, 2).Format("2006-01-02")
		p.ScreeningTime = g.clock()
	}

	if g.rng.Intn(100) < dischargedPercent {
		discharge := birth.AddDate(0, 0, g.between(2, 4))
		birthWeight, _ := strconv.Atoi(p.Weight)
		p.DischargeDate = discharge.Format("2006-01-02")
		p.DischargeTime = g.clock()
		p.DischargeWeight = strconv.Itoa(birthWeight * g.between(92, 99) / 100)
		p.DischargeNurse = g.pick(nurses)
		p.DischargeNeonatologist = g.pick(neonatologists)
	}

	return p
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// Adder is the write side of the patient service.
type Adder interface {
	Add(ctx context.Context, p *patient.Patient) (int64, error)
}

type Seeder struct {
	generator *DataGenerator
	config    SeedConfig
}

func NewSeeder(config SeedConfig, now time.Time) *Seeder {
	return &Seeder{
		generator: NewDataGenerator(config.Seed, now),
		config:    config,
	}
}

// Seed adds PatientCount generated records through dst. Records whose
// generated record number is already taken are skipped and counted.
func (s *Seeder) Seed(ctx context.Context, dst Adder) (*SeedResult, error) {
	start := time.Now()
	result := &SeedResult{}

	for i := 0; i < s.config.PatientCount; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		id, err := dst.Add(ctx, s.generator.GeneratePatient(s.config.DischargedPercent))
		if errors.Is(err, patient.ErrDuplicateMedicalRecordNumber) {
			result.Skipped++
			continue
		}
		if err != nil {
			return result, fmt.Errorf("seed patient %d: %w", i+1, err)
		}
		if result.FirstID == 0 {
			result.FirstID = id
		}
		result.LastID = id
		result.Patients++
	}

	result.Duration = time.Since(start)
	return result, nil
}
