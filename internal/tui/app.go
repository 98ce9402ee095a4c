// Package tui is the single-room chat screen. It renders the engine's store
// and stays dumb: all synchronization lives in the engine, the screen just
// redraws on bus events.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/gapchat/gap/internal/bus"
	"github.com/gapchat/gap/internal/status"
	"github.com/gapchat/gap/internal/store"
	intsync "github.com/gapchat/gap/internal/sync"
)

// App is the chat screen shell.
type App struct {
	app       *tview.Application
	engine    *intsync.Engine
	bus       *bus.Bus
	userID    string
	peerID    string
	msgView   *tview.TextView
	statusBar *tview.TextView
	composer  *tview.InputField
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the chat screen for one open room.
func NewApp(engine *intsync.Engine, b *bus.Bus, userID, peerID string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:    tview.NewApplication(),
		engine: engine,
		bus:    b,
		userID: userID,
		peerID: peerID,
		ctx:    ctx,
		cancel: cancel,
	}

	a.msgView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	a.msgView.SetBorder(true).SetTitle(fmt.Sprintf(" %s ", peerID))

	a.statusBar = tview.NewTextView().SetDynamicColors(true)

	a.composer = tview.NewInputField().
		SetLabel("> ").
		SetFieldBackgroundColor(tcell.ColorDefault)
	a.composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := a.composer.GetText()
		a.composer.SetText("")
		a.send(text)
	})

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyCtrlC {
			a.app.Stop()
			return nil
		}
		return event
	})

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.statusBar, 1, 0, false).
		AddItem(a.composer, 1, 0, true)
	a.app.SetRoot(layout, true)

	return a
}

// Run renders until the user quits.
func (a *App) Run() error {
	defer a.cancel()

	go a.watch()
	a.render()
	a.renderStatus(a.engine.State(), "")

	return a.app.Run()
}

// watch redraws on store and session events.
func (a *App) watch() {
	ch, unsub := a.bus.Subscribe("", 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			a.handle(evt)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handle(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageUpserted, bus.KindMessageRemoved, bus.KindSendAck:
		a.app.QueueUpdateDraw(func() {
			a.render()
		})
	case bus.KindSendFailed:
		failure, ok := evt.Payload.(intsync.SendFailure)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.render()
			a.renderStatus(a.engine.State(), fmt.Sprintf("send failed: %v", failure.Err))
		})
	case bus.KindStatusChanged:
		change, ok := evt.Payload.(status.StatusChange)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.renderStatus(change.To, "")
		})
	}
}

func (a *App) send(text string) {
	go func() {
		if _, err := a.engine.Send(a.ctx, text); err != nil {
			a.app.QueueUpdateDraw(func() {
				a.renderStatus(a.engine.State(), err.Error())
			})
		}
	}()
}

func (a *App) render() {
	a.msgView.Clear()
	for m := range a.engine.Store().All() {
		ts := m.CreatedAt.Local().Format("15:04")
		name := m.SenderID
		color := "aqua"
		if m.SenderID == a.userID {
			name = "you"
			color = "lime"
		}
		suffix := ""
		if m.Pending() {
			suffix = " [gray]…[-]"
		} else if m.State == store.StateFailed {
			suffix = " [red]failed[-]"
		}
		fmt.Fprintf(a.msgView, "[gray]%s[-] [%s]%s:[-] %s%s\n", ts, color, name, tview.Escape(m.Content), suffix)
	}
	a.msgView.ScrollToEnd()
}

func (a *App) renderStatus(st status.State, note string) {
	color := "yellow"
	switch st {
	case status.Live:
		color = "green"
	case status.Failed, status.Closed:
		color = "red"
	}
	line := fmt.Sprintf(" [%s]%s[-]  %s", color, st, time.Now().Local().Format("15:04:05"))
	if note != "" {
		line += "  [red]" + tview.Escape(note) + "[-]"
	}
	a.statusBar.SetText(line)
}
