package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/kuitang/tickr/internal/client"
)

const watchHelp = `a <text>     add to the selected list
d <n>        toggle item n done
e <n> <text> edit item n
x <n>        delete item n
u            undo
l <list-id>  select a list
r            refresh
q            quit`

func newWatchCmd(app *App) *cobra.Command {
	var listID int64
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow lists live and edit them from stdin",
		Long:  "Follow lists live and edit them from stdin. Commands:\n\n" + watchHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, app, listID)
		},
	}
	cmd.Flags().Int64Var(&listID, "list", 0, "List to select first")
	return cmd
}

func runWatch(cmd *cobra.Command, app *App, listID int64) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cache, err := app.cache()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	r := newTermRenderer(out, isTerminal(out))
	a := client.NewApp(app.client(), cache, r)
	defer a.Close()

	if err := a.FetchLists(ctx); err != nil && !client.IsTransient(err) {
		return err
	}
	if listID != 0 {
		if err := a.SelectList(ctx, listID); err != nil && !client.IsTransient(err) {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// Without input keep following until interrupted.
				lines = nil
				continue
			}
			quit, err := execWatchCommand(ctx, a, r, line)
			if err != nil {
				r.Flash(err.Error())
			}
			if quit {
				return nil
			}
		}
	}
}

var errUnknownCommand = errors.New("unknown command, ? for help")

func execWatchCommand(ctx context.Context, a *client.App, r *termRenderer, line string) (quit bool, err error) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "":
		return false, nil
	case "q", "quit":
		return true, nil
	case "?", "help":
		r.Flash(watchHelp)
		return false, nil
	case "a":
		_, err := a.AddItem(ctx, rest)
		return false, err
	case "d":
		it, err := r.itemAt(rest)
		if err != nil {
			return false, err
		}
		return false, a.SetCompleted(ctx, it.ID, !it.Completed)
	case "e":
		n, text, _ := strings.Cut(rest, " ")
		it, err := r.itemAt(n)
		if err != nil {
			return false, err
		}
		return false, a.EditItem(ctx, it.ID, strings.TrimSpace(text))
	case "x":
		it, err := r.itemAt(rest)
		if err != nil {
			return false, err
		}
		return false, a.DeleteItem(ctx, it.ID)
	case "u":
		return false, a.Undo(ctx)
	case "l":
		id, err := parseID("list", rest)
		if err != nil {
			return false, err
		}
		return false, a.SelectList(ctx, id)
	case "r":
		return false, a.Foreground(ctx)
	}
	return false, errUnknownCommand
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// termRenderer draws the whole view on every change. It never calls back
// into the App.
type termRenderer struct {
	out   io.Writer
	clear bool

	mu       sync.Mutex
	lists    []client.List
	activeID int64
	items    map[int64][]client.Item
	offline  bool
	undo     string
	flash    string
}

func newTermRenderer(out io.Writer, clear bool) *termRenderer {
	return &termRenderer{out: out, clear: clear, items: map[int64][]client.Item{}}
}

func (t *termRenderer) RenderLists(lists []client.List, activeID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lists = append([]client.List(nil), lists...)
	t.activeID = activeID
	t.drawLocked()
}

func (t *termRenderer) RenderItems(listID int64, items []client.Item) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[listID] = append([]client.Item(nil), items...)
	if listID == t.activeID {
		t.drawLocked()
	}
}

func (t *termRenderer) SetOffline(offline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offline = offline
	t.drawLocked()
}

func (t *termRenderer) SetUndo(label string, visible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = ""
	if visible {
		t.undo = label
	}
	t.drawLocked()
}

// Flash shows a one-off message under the view until the next redraw.
func (t *termRenderer) Flash(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flash = msg
	t.drawLocked()
	t.flash = ""
}

func (t *termRenderer) itemAt(s string) (client.Item, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return client.Item{}, fmt.Errorf("expected an item number, got %q", s)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	items := t.items[t.activeID]
	if n < 1 || n > len(items) {
		return client.Item{}, fmt.Errorf("no item %d", n)
	}
	return items[n-1], nil
}

func (t *termRenderer) drawLocked() {
	var b strings.Builder
	if t.clear {
		b.WriteString("\x1b[H\x1b[2J")
	} else {
		b.WriteString(mutedStyle.Render("----") + "\n")
	}
	if t.offline {
		b.WriteString(offlineStyle.Render("offline") + mutedStyle.Render(" changes will fail until the server is reachable") + "\n")
	}
	b.WriteString(headingStyle.Render("Lists") + "\n")
	b.WriteString(formatLists(t.lists, t.activeID))
	if t.activeID != 0 {
		name := ""
		for _, l := range t.lists {
			if l.ID == t.activeID {
				name = l.Name
			}
		}
		b.WriteString("\n" + headingStyle.Render(name) + "\n")
		b.WriteString(formatItems(t.items[t.activeID]))
	}
	if t.undo != "" {
		b.WriteString("\n" + noticeStyle.Render(t.undo) + mutedStyle.Render("  (u to undo)") + "\n")
	}
	if t.flash != "" {
		b.WriteString("\n" + t.flash + "\n")
	}
	_, _ = io.WriteString(t.out, b.String())
}
