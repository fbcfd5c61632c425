package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mauzec/taskpulse/internal/core"
	"github.com/mauzec/taskpulse/internal/engine"
	"github.com/mauzec/taskpulse/internal/session"
	"github.com/mauzec/taskpulse/internal/view"
	"github.com/spf13/cobra"
)

const loadWait = 3 * time.Second

var errQuit = errors.New("quit")

// shell is the interactive front end. Every input line is parsed by a
// fresh cobra command tree.
type shell struct {
	eng  *engine.Engine
	sess *session.Session
	now  func() time.Time

	lines <-chan string
	outMu sync.Mutex
	out   io.Writer

	// held by a running command and by redraws
	mu     sync.Mutex
	filter view.Filter
	// rows of the last render, numbered from 1
	shown []*core.Task
}

func newShell(eng *engine.Engine, sess *session.Session, in io.Reader, out io.Writer) *shell {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return &shell{
		eng:    eng,
		sess:   sess,
		now:    time.Now,
		lines:  lines,
		out:    out,
		filter: view.FilterAll,
	}
}

func (s *shell) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, _ = fmt.Fprintf(s.out, format, args...)
}

func (s *shell) run(ctx context.Context) error {
	nCtx, nCanc := context.WithCancel(ctx)
	defer nCanc()
	go s.watch(nCtx)

	s.printf("taskpulse %s. Type help for commands.\n", Version)
	for {
		s.printf("> ")
		line, ok := s.readLine(ctx)
		if !ok {
			s.printf("\n")
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		err := s.exec(ctx, line)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			s.printf("error: %s\n", describe(err))
		}
	}
}

func (s *shell) readLine(ctx context.Context) (string, bool) {
	select {
	case line, ok := <-s.lines:
		return line, ok
	case <-ctx.Done():
		return "", false
	}
}

// confirm asks a y/N question. Anything but y or yes is a no.
func (s *shell) confirm(ctx context.Context, question string) bool {
	s.printf("%s [y/N] ", question)
	answer, _ := s.readLine(ctx)
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// watch prints notices and redraws the list when it changed without a
// command, e.g. after a confirm or a snapshot from another device.
func (s *shell) watch(ctx context.Context) {
	for {
		select {
		case n := <-s.eng.Notices():
			s.printf("\n! %s\n", n.Message())
			if n.Kind == engine.NoticeAddFailed && n.Text != "" {
				s.printf("  not added: %q\n", n.Text)
			}
		case <-s.eng.Changed():
			s.refresh()
		case <-ctx.Done():
			return
		}
	}
}

func (s *shell) refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.eng.Owner(); !ok || s.eng.Loading() {
		return
	}
	if sameRows(s.eng.View(s.filter).Tasks, s.shown) {
		return
	}
	s.printf("\n")
	s.render()
	s.printf("> ")
}

func sameRows(a, b []*core.Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.Text != y.Text || x.Completed != y.Completed ||
			core.FormatDueDate(x.DueDate) != core.FormatDueDate(y.DueDate) {
			return false
		}
	}
	return true
}

func (s *shell) exec(ctx context.Context, line string) error {
	args, err := splitArgs(line)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	root := s.commands()
	root.SetArgs(args)
	root.SetOut(s.out)
	root.SetErr(s.out)
	return root.ExecuteContext(ctx)
}

func (s *shell) commands() *cobra.Command {
	root := &cobra.Command{
		Use:           "",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(&cobra.Command{
		Use:   "login <owner>",
		Short: "Sign in and show the owner's tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s.login(args[0])
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := s.sess.Current(); !ok {
				return core.NewUnauthenticatedError("main.shell.logout")
			}
			if !s.confirm(cmd.Context(), "Log out?") {
				return nil
			}
			s.sess.SignOut()
			s.shown = nil
			s.printf("Signed out.\n")
			return nil
		},
	})

	var addDue string
	add := &cobra.Command{
		Use:   "add <text>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			due, err := core.ParseDueDate(addDue)
			if err != nil {
				return err
			}
			if _, err := s.eng.Add(cmd.Context(), strings.Join(args, " "), due); err != nil {
				return err
			}
			s.render()
			return nil
		},
	}
	add.Flags().StringVar(&addDue, "due", "", "due date, YYYY-MM-DD")
	root.AddCommand(add)

	var (
		editDue   string
		editNoDue bool
	)
	edit := &cobra.Command{
		Use:   "edit <ref> <text>",
		Short: "Change the text and due date of a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := s.resolve(args[0])
			if err != nil {
				return err
			}
			due := task.DueDate
			switch {
			case editNoDue:
				due = nil
			case editDue != "":
				if due, err = core.ParseDueDate(editDue); err != nil {
					return err
				}
			}
			if _, err := s.eng.Update(cmd.Context(), task.ID, strings.Join(args[1:], " "), due); err != nil {
				return err
			}
			s.render()
			return nil
		},
	}
	edit.Flags().StringVar(&editDue, "due", "", "new due date, YYYY-MM-DD")
	edit.Flags().BoolVar(&editNoDue, "no-due", false, "clear the due date")
	edit.MarkFlagsMutuallyExclusive("due", "no-due")
	root.AddCommand(edit)

	root.AddCommand(&cobra.Command{
		Use:     "toggle <ref>",
		Aliases: []string{"done"},
		Short:   "Mark a task completed or active",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := s.resolve(args[0])
			if err != nil {
				return err
			}
			if _, err := s.eng.ToggleComplete(cmd.Context(), task.ID); err != nil {
				return err
			}
			s.render()
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:     "rm <ref>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := s.resolve(args[0])
			if err != nil {
				return err
			}
			p, err := s.eng.Delete(cmd.Context(), task.ID, func(t *core.Task) bool {
				return s.confirm(cmd.Context(), fmt.Sprintf("Delete %q?", t.Text))
			})
			if err != nil {
				return err
			}
			if p != nil {
				s.render()
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:       "filter <all|active|completed>",
		Short:     "Choose which tasks are listed",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"all", "active", "completed"},
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := view.ParseFilter(args[0])
			if err != nil {
				return err
			}
			s.filter = f
			s.render()
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s.render()
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:     "quit",
		Aliases: []string{"exit"},
		Short:   "Leave the shell",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return errQuit
		},
	})
	return root
}

func (s *shell) login(owner string) {
	s.sess.SignIn(owner)
	owner, ok := s.sess.Current()
	if !ok {
		return
	}
	s.printf("%s, %s.\n", view.Greeting(s.now()), owner)

	deadline := time.Now().Add(loadWait)
	for s.eng.Loading() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	s.render()
}

func (s *shell) render() {
	owner, ok := s.eng.Owner()
	if !ok {
		s.shown = nil
		s.printf("Not signed in. Use login <owner>.\n")
		return
	}
	if s.eng.Loading() {
		s.printf("Loading tasks of %s...\n", owner)
		return
	}

	v := s.eng.View(s.filter)
	s.shown = v.Tasks
	s.printf("%s: %d total, %d active, %d completed [%s]\n",
		owner, v.Counts.Total, v.Counts.Active, v.Counts.Completed, v.Filter)
	if v.IsEmpty() {
		s.printf("  %s %s\n", v.Empty.Title, v.Empty.Subtitle)
		return
	}
	for i, t := range v.Tasks {
		s.printf("%s\n", formatRow(i+1, t))
	}
}

func formatRow(n int, t *core.Task) string {
	var b strings.Builder
	mark := " "
	if t.Completed {
		mark = "x"
	}
	fmt.Fprintf(&b, "%3d. [%s] %s", n, mark, t.Text)
	if t.DueDate != nil {
		fmt.Fprintf(&b, "  (due %s)", core.FormatDueDate(t.DueDate))
	}
	if engine.IsProvisional(t.ID) {
		b.WriteString("  ~syncing")
	}
	return b.String()
}

// resolve finds a task by its row number in the last render, its id or a
// unique id prefix.
func (s *shell) resolve(ref string) (*core.Task, error) {
	const op = "main.shell.resolve"
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(s.shown) {
			return nil, core.NewValidationError(fmt.Sprintf("no row %d, run ls", n), op)
		}
		ref = s.shown[n-1].ID
	}
	if t, ok := s.eng.Task(ref); ok {
		return t, nil
	}

	var found *core.Task
	for _, t := range s.eng.Tasks() {
		if !strings.HasPrefix(t.ID, ref) {
			continue
		}
		if found != nil {
			return nil, core.NewValidationError("ambiguous task "+ref, op)
		}
		found = t
	}
	if found == nil {
		return nil, core.NewTaskNotFoundError(ref, op)
	}
	return found, nil
}

// splitArgs splits on spaces, keeping double-quoted parts together.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case r == ' ' && !quoted:
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if quoted {
		return nil, core.NewValidationError("unterminated quote", "main.splitArgs")
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}

func describe(err error) string {
	if appErr, ok := core.AsAppError(err); ok {
		return appErr.PublicMessage()
	}
	return err.Error()
}
