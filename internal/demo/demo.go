// Package demo is the application served by the gateway: a counter, a todo
// list and a clock that is pushed from a background goroutine.
package demo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"wtcore/internal/session"
	"wtcore/internal/widget"
)

const clockLayout = "15:04:05"

// App builds one page per session.
type App struct {
	ctx        context.Context
	clockEvery time.Duration

	mu       sync.RWMutex
	sessions *session.Manager
}

// New returns an App whose clocks stop when ctx ends. A clockEvery of zero
// disables the clock.
func New(ctx context.Context, clockEvery time.Duration) *App {
	return &App{ctx: ctx, clockEvery: clockEvery}
}

// Bind gives the app the manager used to push clock ticks.
func (a *App) Bind(m *session.Manager) {
	a.mu.Lock()
	a.sessions = m
	a.mu.Unlock()
}

func (a *App) manager() *session.Manager {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sessions
}

// Factory is the session.AppFactory of the demo.
func (a *App) Factory(ctx context.Context, g *session.Guard, caps session.Capabilities) error {
	_, err := a.build(g, caps)
	return err
}

type page struct {
	app *App
	sid string

	count  *widget.Node
	clicks int

	input *widget.Node
	list  *widget.Node
	empty *widget.Node
	left  *widget.Node
	items int

	clock       *widget.Node
	clockToggle *widget.Node
	stopClock   context.CancelFunc
}

func (a *App) build(g *session.Guard, caps session.Capabilities) (*page, error) {
	tr := g.Tree()
	p := &page{app: a, sid: g.Session().ID()}

	counter := widget.NewContainer()
	p.count = widget.NewText("0")
	inc := widget.NewButton("+1")
	reset := widget.NewButton("reset")

	todo := widget.NewContainer()
	p.input = widget.NewLineEdit("")
	add := widget.NewButton("add")
	clearAll := widget.NewButton("clear")
	p.list = widget.New(widget.List)
	p.left = widget.NewText("0 items")

	clock := widget.NewContainer()
	p.clock = widget.NewText("--:--:--")
	p.clockToggle = widget.NewButton("start clock")

	steps := []struct{ parent, child *widget.Node }{
		{tr.Root(), counter},
		{counter, p.count},
		{counter, inc},
		{counter, reset},
		{tr.Root(), todo},
		{todo, p.input},
		{todo, add},
		{todo, clearAll},
		{todo, p.list},
		{todo, p.left},
		{tr.Root(), clock},
		{clock, p.clock},
		{clock, p.clockToggle},
	}
	for _, s := range steps {
		if err := tr.Append(s.parent, s.child); err != nil {
			return nil, fmt.Errorf("build page: %w", err)
		}
	}
	if err := p.showEmpty(tr); err != nil {
		return nil, err
	}
	if !caps.JavaScript || a.clockEvery <= 0 {
		if err := clock.SetHidden(true); err != nil {
			return nil, err
		}
	}

	inc.On(widget.EventClicked, func(ctx context.Context, ev widget.Event) error {
		p.clicks++
		return p.count.SetText(strconv.Itoa(p.clicks))
	})
	reset.On(widget.EventClicked, func(ctx context.Context, ev widget.Event) error {
		p.clicks = 0
		return p.count.SetText("0")
	})
	addItem := func(ctx context.Context, ev widget.Event) error {
		return p.addItem(tr)
	}
	add.On(widget.EventClicked, addItem)
	p.input.On(widget.EventEnter, addItem)
	clearAll.On(widget.EventClicked, func(ctx context.Context, ev widget.Event) error {
		p.items = 0
		p.empty = nil
		if err := p.showEmpty(tr); err != nil {
			return err
		}
		return p.updateLeft()
	})
	p.clockToggle.On(widget.EventClicked, func(ctx context.Context, ev widget.Event) error {
		return p.toggleClock()
	})
	return p, nil
}

// showEmpty replaces the list contents with the placeholder row.
func (p *page) showEmpty(tr *widget.Tree) error {
	p.empty = widget.New(widget.ListItem)
	if err := p.empty.SetText("nothing to do"); err != nil {
		return err
	}
	return tr.ReplaceChildren(p.list, p.empty)
}

func (p *page) addItem(tr *widget.Tree) error {
	text, _ := p.input.Attr("value")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if p.empty != nil {
		if err := tr.Remove(p.empty); err != nil {
			return err
		}
		p.empty = nil
	}

	item := widget.New(widget.ListItem)
	label := widget.NewText(text)
	up := widget.NewButton("up")
	done := widget.NewButton("done")
	if err := tr.Append(p.list, item); err != nil {
		return err
	}
	for _, c := range []*widget.Node{label, up, done} {
		if err := tr.Append(item, c); err != nil {
			return err
		}
	}
	up.On(widget.EventClicked, func(ctx context.Context, ev widget.Event) error {
		i := p.list.IndexOf(item)
		if i <= 0 {
			return nil
		}
		return tr.Move(item, p.list, i-1)
	})
	done.On(widget.EventClicked, func(ctx context.Context, ev widget.Event) error {
		if err := tr.Remove(item); err != nil {
			return err
		}
		p.items--
		if p.items == 0 {
			if err := p.showEmpty(tr); err != nil {
				return err
			}
		}
		return p.updateLeft()
	})

	p.items++
	if err := p.input.SetAttribute("value", ""); err != nil {
		return err
	}
	return p.updateLeft()
}

func (p *page) updateLeft() error {
	if p.items == 1 {
		return p.left.SetText("1 item")
	}
	return p.left.SetText(fmt.Sprintf("%d items", p.items))
}

// toggleClock runs with the update lock held.
func (p *page) toggleClock() error {
	if p.stopClock != nil {
		p.stopClock()
		p.stopClock = nil
		return p.clockToggle.SetText("start clock")
	}
	m := p.app.manager()
	if m == nil || p.app.clockEvery <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(p.app.ctx)
	p.stopClock = cancel
	go p.runClock(ctx, m)
	return p.clockToggle.SetText("stop clock")
}

func (p *page) runClock(ctx context.Context, m *session.Manager) {
	ticker := time.NewTicker(p.app.clockEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			err := m.Push(ctx, p.sid, func(g *session.Guard) error {
				if ctx.Err() != nil {
					return nil
				}
				return p.clock.SetText(now.Format(clockLayout))
			})
			switch {
			case err == nil:
			case errors.Is(err, session.ErrSessionGone), errors.Is(err, session.ErrUnknownSession):
				return
			case ctx.Err() != nil:
				return
			default:
				log.Printf("demo: clock tick sid=%s: %v", p.sid, err)
			}
		}
	}
}
