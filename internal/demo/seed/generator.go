package seed

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// CustomerRow and OrderRow are the parquet schemas of the sample dataset.
// created_at/signed_up_at use the timestamp logical type so date-typed
// columns surface in schema introspection and chart suggestions.
type CustomerRow struct {
	CustomerID string    `parquet:"customer_id"`
	Name       string    `parquet:"name"`
	Country    string    `parquet:"country"`
	SignedUpAt time.Time `parquet:"signed_up_at,timestamp"`
}

type OrderRow struct {
	OrderID    int64     `parquet:"order_id"`
	CustomerID string    `parquet:"customer_id"`
	Status     string    `parquet:"status"`
	Total      float64   `parquet:"total"`
	Currency   string    `parquet:"currency"`
	CreatedAt  time.Time `parquet:"created_at,timestamp"`
}

type Generator struct {
	rnd *rand.Rand
	now func() time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(seed)),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (g *Generator) Customers(count int) []CustomerRow {
	base := g.now()
	rows := make([]CustomerRow, 0, count)
	for i := 1; i <= count; i++ {
		rows = append(rows, CustomerRow{
			CustomerID: fmt.Sprintf("cust-%04d", i),
			Name:       fmt.Sprintf("Customer %04d", i),
			Country:    pickOne(g.rnd, []string{"US", "DE", "GB", "IN", "JP", "BR"}),
			SignedUpAt: base.AddDate(0, 0, -g.rnd.Intn(365)),
		})
	}
	return rows
}

func (g *Generator) Orders(count, customerCardinality int) []OrderRow {
	base := g.now()
	rows := make([]OrderRow, 0, count)
	for i := 1; i <= count; i++ {
		status := g.pickStatus()
		rows = append(rows, OrderRow{
			OrderID:    int64(i),
			CustomerID: fmt.Sprintf("cust-%04d", g.rnd.Intn(customerCardinality)+1),
			Status:     status,
			Total:      g.pickTotal(status),
			Currency:   "USD",
			CreatedAt:  base.AddDate(0, 0, -g.rnd.Intn(90)),
		})
	}
	return rows
}

func (g *Generator) pickStatus() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 55:
		return "paid"
	case p < 75:
		return "shipped"
	case p < 90:
		return "pending"
	case p < 97:
		return "cancelled"
	default:
		return "refunded"
	}
}

func (g *Generator) pickTotal(status string) float64 {
	switch status {
	case "cancelled", "refunded":
		return round2(5 + g.rnd.Float64()*60)
	default:
		return round2(10 + g.rnd.Float64()*290)
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
