// Package datagen builds synthetic payment sales and decides which of them are
// turned into faults.
package datagen

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"payments-datagen/internal/core/domain"
	"payments-datagen/internal/core/ports"
)

const (
	confirmationCodeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	confirmationCodeLength = 8
)

// Options bounds the random fields and places the malformed-record sentinel.
type Options struct {
	WindowSize     int
	SentinelOffset int
	ProductIDMax   int
	CustomerIDMax  int
	AmountMax      float64
	ExpiryYearsMax int
}

// DefaultOptions marks the 5th sale of every 5 as malformed.
func DefaultOptions() Options {
	return Options{
		WindowSize:     5,
		SentinelOffset: 4,
		ProductIDMax:   100,
		CustomerIDMax:  50,
		AmountMax:      1000,
		ExpiryYearsMax: 4,
	}
}

// Generator produces sales for a single worker. The window position and the
// random source belong to the generator; order ids come from a shared source.
// A Generator is not safe for concurrent use.
type Generator struct {
	ids    ports.OrderIDSource
	opts   Options
	rnd    *rand.Rand
	now    func() time.Time
	window int
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand replaces the random source.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) { g.rnd = r }
}

// WithClock replaces the clock used for timestamps and expirations.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator returns a generator with its window at position 0.
func NewGenerator(ids ports.OrderIDSource, opts Options, options ...Option) *Generator {
	if opts.WindowSize < 1 {
		opts.WindowSize = 1
	}
	g := &Generator{
		ids:  ids,
		opts: opts,
		rnd:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:  time.Now,
	}
	for _, o := range options {
		o(g)
	}
	return g
}

// Position is the window position the next sale will take.
func (g *Generator) Position() int {
	return g.window
}

// Next allocates an order id and builds the sale for the current window
// position, then advances the window.
func (g *Generator) Next(ctx context.Context) (domain.Sale, error) {
	orderID, err := g.ids.NextOrderID(ctx)
	if err != nil {
		return domain.Sale{}, &domain.GenerationError{Cause: err}
	}
	sale := g.Generate(orderID, g.window)
	g.window = (g.window + 1) % g.opts.WindowSize
	return sale, nil
}

// Generate builds one sale. position is only used to decide whether the sale
// gets the invalid confirmation code.
func (g *Generator) Generate(orderID int64, position int) domain.Sale {
	now := g.now()
	sale := domain.Sale{
		OrderID:    orderID,
		ProductID:  g.rnd.IntN(g.opts.ProductIDMax),
		CustomerID: g.rnd.IntN(g.opts.CustomerIDMax),
		Timestamp:  now,
		CardNumber: g.cardNumber(),
		Expiration: g.expiration(now),
		Amount:     g.rnd.Float64() * g.opts.AmountMax,
	}

	if position%g.opts.WindowSize == g.opts.SentinelOffset {
		sale.ConfirmationCode = domain.InvalidConfirmationCode
	} else {
		sale.ConfirmationCode = g.confirmationCode()
	}
	return sale
}

func (g *Generator) confirmationCode() string {
	var b strings.Builder
	b.Grow(confirmationCodeLength)
	for range confirmationCodeLength {
		b.WriteByte(confirmationCodeChars[g.rnd.IntN(len(confirmationCodeChars))])
	}
	return b.String()
}

// cardNumber looks like dddd-dddd-dddd-dddd with a leading 2, 3 or 4.
// Luhn validity is not guaranteed.
func (g *Generator) cardNumber() string {
	var b strings.Builder
	b.Grow(19)
	b.WriteByte(byte('2' + g.rnd.IntN(3)))
	for i := 2; i < 17; i++ {
		b.WriteByte(byte('0' + g.rnd.IntN(10)))
		if i%4 == 0 && i != 16 {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// expiration is MM/yy, one to ExpiryYearsMax years ahead of now.
func (g *Generator) expiration(now time.Time) string {
	year := now.Year() + 1 + g.rnd.IntN(g.opts.ExpiryYearsMax)
	month := time.Month(1 + g.rnd.IntN(12))
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format("01/06")
}
