// Package console prints delivered sales to a terminal, one colour per worker.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"payments-datagen/internal/core/domain"
)

var colorPalette = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgBlue),
	color.New(color.FgMagenta),
	color.New(color.FgRed),
}

// Echo writes one line per delivery. It is shared by all workers.
type Echo struct {
	mu     sync.Mutex
	out    io.Writer
	colors map[string]*color.Color
}

func NewEcho(out io.Writer) *Echo {
	return &Echo{out: out, colors: make(map[string]*color.Color)}
}

// Sale prints a delivered sale. duplicate marks the second delivery of the same sale.
func (e *Echo) Sale(worker string, sale domain.Sale, receipt domain.Receipt, duplicate bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.colors[worker]
	if !ok {
		c = colorPalette[len(e.colors)%len(colorPalette)]
		e.colors[worker] = c
	}
	prefix := c.Sprintf("[%s]", worker)

	label := "sale"
	if duplicate {
		label = "duplicate sale"
	}
	fmt.Fprintf(e.out, "%-30s %s offset=%d %s\n", prefix, label, receipt.Offset, sale)
}
