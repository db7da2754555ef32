package tui

import (
	"context"

	"github.com/Veraticus/cellflow/internal/common"
	"github.com/Veraticus/cellflow/internal/model"
	"github.com/Veraticus/cellflow/internal/propagation"
	"github.com/Veraticus/cellflow/internal/scheduler"
	"github.com/Veraticus/cellflow/internal/subscription"
	tea "github.com/charmbracelet/bubbletea"
)

// Sender delivers messages into a running program. *tea.Program
// satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// Attachment is the grid's pair of hub observers.
type Attachment struct {
	hub     *propagation.Hub
	grid    propagation.Handle
	counter propagation.Handle
}

// Attach registers the grid and its status counter as hub observers that
// forward refreshes to s. The grid watches every data change and every
// status change; the counter refreshes after the grid does.
func Attach(hub *propagation.Hub, s Sender) (*Attachment, error) {
	grid, err := hub.Register(gridObserver(hub, s), subscription.Everything(), subscription.CellStatus())
	if err != nil {
		return nil, err
	}
	counter, err := hub.Register(countsObserver(hub, s), subscription.After(grid.ID()))
	if err != nil {
		hub.Unregister(grid)
		return nil, err
	}

	common.LogDebug("Grid attached", common.Fields{"grid": grid.ID().String(), "counter": counter.ID().String()})
	return &Attachment{hub: hub, grid: grid, counter: counter}, nil
}

// Refresh sends the whole grid now. The counter follows after its usual
// debounce.
func (a *Attachment) Refresh(ctx context.Context) error {
	return a.hub.Refresh(ctx, a.grid, model.EverythingChanged())
}

// Detach unregisters both observers.
func (a *Attachment) Detach() {
	a.hub.Unregister(a.counter)
	a.hub.Unregister(a.grid)
}

// gridSource feeds the grid. The first refresh and every structural change
// send the whole table; anything else sends only the cells that changed.
// It runs on the delivery goroutine only.
type gridSource struct {
	hub     *propagation.Hub
	s       Sender
	columns []string
	rows    [][]string
	version uint64
	sent    bool
}

func gridObserver(hub *propagation.Hub, s Sender) scheduler.Observer {
	g := &gridSource{hub: hub, s: s}
	return scheduler.ObserverFunc(g.refresh)
}

func (g *gridSource) refresh(summary model.ChangeSummary) error {
	if !g.sent || summary.Everything || summary.RowCountChanged || summary.ColumnSetChanged {
		return g.sendAll(summary)
	}

	// Read the version first so a status written during this refresh is
	// picked up again next time.
	version := g.hub.StatusVersion()
	cells, ok := g.hub.StatusChangedSince(g.version)
	if !ok {
		return g.sendAll(summary)
	}

	values, err := g.changedValues(summary)
	if err != nil {
		return err
	}

	statuses := make(map[model.CellCoordinate]model.CellStatus, len(cells))
	for i, st := range g.hub.CellStatuses(cells) {
		statuses[cells[i]] = st
	}
	g.version = version

	g.s.Send(gridPatchMsg{values: values, statuses: statuses, summary: summary})
	return nil
}

// changedValues re-reads the columns the summary names and returns the
// cells that differ from what was last sent.
func (g *gridSource) changedValues(summary model.ChangeSummary) (map[model.CellCoordinate]string, error) {
	ds := g.hub.Dataset()
	values := make(map[model.CellCoordinate]string)
	for c, name := range g.columns {
		if !summary.HasColumn(name) {
			continue
		}
		column, err := ds.ReadColumn(name)
		if err != nil {
			return nil, common.NewReadFault(name, err)
		}
		for r := 0; r < len(g.rows) && r < len(column); r++ {
			if g.rows[r][c] != column[r] {
				g.rows[r][c] = column[r]
				values[model.Cell(r, name)] = column[r]
			}
		}
	}
	return values, nil
}

func (g *gridSource) sendAll(summary model.ChangeSummary) error {
	version := g.hub.StatusVersion()
	ds := g.hub.Dataset()
	columns := ds.Columns()
	n := ds.RowCount()

	rows := make([][]string, n)
	for i := range rows {
		rows[i] = make([]string, len(columns))
	}
	for c, name := range columns {
		values, err := ds.ReadColumn(name)
		if err != nil {
			return common.NewReadFault(name, err)
		}
		for r := 0; r < n && r < len(values); r++ {
			rows[r][c] = values[r]
		}
	}

	statuses := make(map[model.CellCoordinate]model.CellStatus)
	for _, e := range g.hub.StatusEntries() {
		statuses[e.Cell] = e.Status
	}

	g.columns = columns
	g.rows = rows
	g.version = version
	g.sent = true

	// The model patches its rows in place, so it gets its own copy.
	g.s.Send(gridMsg{columns: columns, rows: copyRows(rows), statuses: statuses, summary: summary})
	return nil
}

func copyRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = append([]string(nil), row...)
	}
	return out
}

func countsObserver(hub *propagation.Hub, s Sender) scheduler.Observer {
	return scheduler.ObserverFunc(func(model.ChangeSummary) error {
		ds := hub.Dataset()
		s.Send(countsMsg{
			counts: hub.StatusCounts(),
			cells:  ds.RowCount() * len(ds.Columns()),
		})
		return nil
	})
}
