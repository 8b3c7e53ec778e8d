// Package demo builds the deterministic demo billing dataset and writes it
// as parquet files.
package demo

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

const (
	ClientCount   = 20
	InvoiceCount  = 40
	LineItemCount = 96
	DefaultSeed   = 2024
)

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

type ClientRow struct {
	ClientID   string `parquet:"client_id"`
	ClientName string `parquet:"name"`
	Industry   string `parquet:"industry"`
	Country    string `parquet:"country"`
}

// InvoiceRow stores dates as days since the Unix epoch, the parquet DATE
// physical form.
type InvoiceRow struct {
	InvoiceID   string  `parquet:"invoice_id"`
	ClientID    string  `parquet:"client_id"`
	InvoiceDate int32   `parquet:"invoice_date,date"`
	DueDate     int32   `parquet:"due_date,date"`
	Status      string  `parquet:"status"`
	Currency    string  `parquet:"currency"`
	FXRateToUSD float64 `parquet:"fx_rate_to_usd"`
}

type LineItemRow struct {
	LineID      string  `parquet:"line_id"`
	InvoiceID   string  `parquet:"invoice_id"`
	ServiceName string  `parquet:"service_name"`
	Quantity    int64   `parquet:"quantity"`
	UnitPrice   float64 `parquet:"unit_price"`
	TaxRate     float64 `parquet:"tax_rate"`
}

type Dataset struct {
	Clients   []ClientRow
	Invoices  []InvoiceRow
	LineItems []LineItemRow
}

type clientProfile struct {
	name     string
	industry string
	country  string
}

var clientProfiles = [ClientCount]clientProfile{
	{"Acme Corp", "Manufacturing", "UK"},
	{"Bright Legal", "Legal Services", "Germany"},
	{"Cedar Partners", "Consulting", "UK"},
	{"Delta Logistics", "Logistics", "Netherlands"},
	{"Evergreen Health", "Healthcare", "USA"},
	{"Fjord Shipping", "Logistics", "Norway"},
	{"Granite Capital", "Financial Services", "USA"},
	{"Harbor Foods", "Retail", "France"},
	{"Ionic Labs", "Technology", "Germany"},
	{"Juniper Media", "Media", "Spain"},
	{"Keystone Energy", "Energy", "Canada"},
	{"Lumen Retail", "Retail", "Italy"},
	{"Meridian Insurance", "Financial Services", "Switzerland"},
	{"Northwind Traders", "Retail", "UK"},
	{"Orbit Aerospace", "Manufacturing", "France"},
	{"Pinnacle Realty", "Real Estate", "Australia"},
	{"Quartz Analytics", "Technology", "Ireland"},
	{"Riverbend Farms", "Agriculture", "USA"},
	{"Summit Pharma", "Healthcare", "Belgium"},
	{"Tidal Software", "Technology", "Japan"},
}

var countryCurrency = map[string]string{
	"UK":          "GBP",
	"Germany":     "EUR",
	"Netherlands": "EUR",
	"USA":         "USD",
	"Norway":      "NOK",
	"France":      "EUR",
	"Spain":       "EUR",
	"Canada":      "CAD",
	"Italy":       "EUR",
	"Switzerland": "CHF",
	"Australia":   "AUD",
	"Ireland":     "EUR",
	"Belgium":     "EUR",
	"Japan":       "JPY",
}

var fxRatesToUSD = map[string]float64{
	"GBP": 1.27,
	"EUR": 1.09,
	"USD": 1,
	"NOK": 0.095,
	"CAD": 0.74,
	"CHF": 1.13,
	"AUD": 0.66,
	"JPY": 0.0068,
}

type service struct {
	name      string
	unitPrice float64
}

var services = []service{
	{"Contract Review", 450},
	{"Compliance Audit", 1200},
	{"Tax Advisory", 800},
	{"Litigation Support", 1500},
	{"Corporate Filing", 300},
	{"IP Registration", 650},
	{"Due Diligence", 2000},
	{"Payroll Consulting", 550},
}

var taxRates = map[string]float64{
	"UK":          0.2,
	"Germany":     0.19,
	"Netherlands": 0.21,
	"USA":         0,
	"Norway":      0.25,
	"France":      0.2,
	"Spain":       0.21,
	"Canada":      0.05,
	"Italy":       0.22,
	"Switzerland": 0.081,
	"Australia":   0.1,
	"Ireland":     0.23,
	"Belgium":     0.21,
	"Japan":       0.1,
}

type Generator struct {
	rnd *rand.Rand
	// asOf decides whether an unpaid invoice is Pending or Overdue.
	asOf time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd:  rand.New(rand.NewSource(seed)),
		asOf: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

// Generate returns ClientCount clients, InvoiceCount invoices dated in 2024
// and LineItemCount line items. Client C001 is Acme Corp and the first
// invoice is I1001.
func (g *Generator) Generate() Dataset {
	ds := Dataset{
		Clients:   make([]ClientRow, 0, ClientCount),
		Invoices:  make([]InvoiceRow, 0, InvoiceCount),
		LineItems: make([]LineItemRow, 0, LineItemCount),
	}
	for i, profile := range clientProfiles {
		ds.Clients = append(ds.Clients, ClientRow{
			ClientID:   fmt.Sprintf("C%03d", i+1),
			ClientName: profile.name,
			Industry:   profile.industry,
			Country:    profile.country,
		})
	}

	lineSeq := 0
	for i := 0; i < InvoiceCount; i++ {
		client := ds.Clients[i%ClientCount]
		currency := countryCurrency[client.Country]
		// Spread invoices over the year; the second round lands in H2.
		month := time.Month(1 + (i%ClientCount)*6/ClientCount + (i/ClientCount)*6)
		issued := time.Date(2024, month, 1+g.rnd.Intn(28), 0, 0, 0, 0, time.UTC)
		due := issued.AddDate(0, 0, 30)
		invoice := InvoiceRow{
			InvoiceID:   fmt.Sprintf("I%d", 1001+i),
			ClientID:    client.ClientID,
			InvoiceDate: daysSinceEpoch(issued),
			DueDate:     daysSinceEpoch(due),
			Status:      g.pickStatus(due),
			Currency:    currency,
			FXRateToUSD: fxRatesToUSD[currency],
		}
		ds.Invoices = append(ds.Invoices, invoice)

		lines := 2
		if i%5 < 2 {
			lines = 3
		}
		for j := 0; j < lines; j++ {
			lineSeq++
			svc := services[g.rnd.Intn(len(services))]
			ds.LineItems = append(ds.LineItems, LineItemRow{
				LineID:      fmt.Sprintf("L%04d", lineSeq),
				InvoiceID:   invoice.InvoiceID,
				ServiceName: svc.name,
				Quantity:    int64(1 + g.rnd.Intn(10)),
				UnitPrice:   round2(svc.unitPrice * (0.9 + g.rnd.Float64()*0.2)),
				TaxRate:     taxRates[client.Country],
			})
		}
	}
	return ds
}

func (g *Generator) pickStatus(due time.Time) string {
	p := g.rnd.Intn(100)
	switch {
	case p < 60:
		return "Paid"
	case due.Before(g.asOf):
		return "Overdue"
	default:
		return "Pending"
	}
}

func daysSinceEpoch(t time.Time) int32 {
	return int32(t.Sub(epoch).Hours() / 24)
}

// DateFromDays converts a parquet DATE value back to a UTC time.
func DateFromDays(days int32) time.Time {
	return epoch.AddDate(0, 0, int(days))
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
