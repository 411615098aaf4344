package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/amirasaad/persistence/infra/initializer"
	"github.com/amirasaad/persistence/internal/fixtures"
	"github.com/amirasaad/persistence/pkg/config"
	"github.com/amirasaad/persistence/pkg/repository"
	"github.com/amirasaad/persistence/pkg/result"
	"github.com/amirasaad/persistence/pkg/specification"
	"github.com/fatih/color"
	"github.com/google/uuid"
)

const usage = `Usage: cli <command> [arguments]
Commands:
  demo                          run create, update and soft delete on a fresh note
  create <title> <slug> [prio]  create a note
  get <id> [--deleted]          show a note
  list [cursor]                 page through live notes by creation time
  rename <id> <title>           change the title of a note
  delete <id> <soft|hard>       delete a note`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		return
	}
	cfg, err := config.Load()
	if err != nil {
		color.Red("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	deps, err := initializer.InitializeDependencies(cfg)
	if err != nil {
		color.Red("Failed to initialize dependencies: %v", err)
		os.Exit(1)
	}
	defer deps.Close()

	if err := run(context.Background(), deps, os.Args[1:], os.Stdout); err != nil {
		color.Red("Error: %v", err)
		deps.Close()
		os.Exit(1)
	}
}

type notesProvider = repository.Provider[fixtures.Note, fixtures.NoteCreate, fixtures.NoteUpdate, uuid.UUID]
type notesRepo = repository.Repository[fixtures.Note, fixtures.NoteCreate, fixtures.NoteUpdate, uuid.UUID]

type cli struct {
	deps  *initializer.Deps
	notes notesProvider
	out   io.Writer
}

func run(ctx context.Context, deps *initializer.Deps, args []string, out io.Writer) error {
	if err := deps.Migrate(&fixtures.Note{}, &fixtures.Tag{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	notes, err := initializer.Provide[fixtures.Note, *fixtures.Note](deps, fixtures.NoteSchema())
	if err != nil {
		return err
	}
	c := &cli{deps: deps, notes: notes, out: out}

	switch args[0] {
	case "demo":
		return c.demo(ctx)
	case "create":
		if len(args) < 3 {
			return fmt.Errorf("usage: create <title> <slug> [priority]")
		}
		prio := 0
		if len(args) > 3 {
			if prio, err = strconv.Atoi(args[3]); err != nil {
				return fmt.Errorf("invalid priority: %w", err)
			}
		}
		return c.create(ctx, fixtures.NoteCreate{Title: args[1], Slug: args[2], Priority: prio})
	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: get <id> [--deleted]")
		}
		return c.get(ctx, args[1], len(args) > 2 && args[2] == "--deleted")
	case "list":
		cursor := ""
		if len(args) > 1 {
			cursor = args[1]
		}
		return c.list(ctx, cursor)
	case "rename":
		if len(args) < 3 {
			return fmt.Errorf("usage: rename <id> <title>")
		}
		return c.rename(ctx, args[1], args[2])
	case "delete":
		if len(args) < 3 {
			return fmt.Errorf("usage: delete <id> <soft|hard>")
		}
		return c.delete(ctx, args[1], args[2])
	}
	return fmt.Errorf("unknown command %q\n%s", args[0], usage)
}

// within runs fn in its own unit of work.
func (c *cli) within(ctx context.Context, fn func(ctx context.Context, notes notesRepo) error) error {
	_, err := result.Unpack(repository.Do(ctx, c.deps.Factory, func(ctx context.Context, u repository.UnitOfWork) error {
		notes, err := result.Unpack(c.notes(u))
		if err != nil {
			return err
		}
		return fn(ctx, notes)
	}))
	return err
}

func (c *cli) print(n *fixtures.Note) {
	if n == nil {
		color.New(color.FgYellow).Fprintln(c.out, "(absent)")
		return
	}
	state := color.GreenString("live")
	if n.Deleted {
		state = color.RedString("deleted")
	}
	fmt.Fprintf(c.out, "%s  %-24q slug=%s prio=%d v%d %s\n",
		n.ID, n.Title, n.Slug, n.Priority, n.Version, state)
}

func (c *cli) create(ctx context.Context, data fixtures.NoteCreate) error {
	return c.within(ctx, func(ctx context.Context, notes notesRepo) error {
		n, err := result.Unpack(notes.Create(ctx, data))
		if err != nil {
			return err
		}
		c.print(n)
		return nil
	})
}

func (c *cli) get(ctx context.Context, raw string, deleted bool) error {
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	var opts []repository.ReadOption
	if deleted {
		opts = append(opts, repository.IncludeDeleted())
	}
	return c.within(ctx, func(ctx context.Context, notes notesRepo) error {
		n, err := result.Unpack(notes.Get(ctx, id, opts...))
		if err != nil {
			return err
		}
		c.print(n)
		return nil
	})
}

func (c *cli) list(ctx context.Context, cursor string) error {
	return c.within(ctx, func(ctx context.Context, notes notesRepo) error {
		page, err := result.Unpack(notes.GetPage(ctx, cursor, 0, specification.All[fixtures.Note]()))
		if err != nil {
			return err
		}
		for i := range page.Items {
			c.print(&page.Items[i])
		}
		if page.HasMore() {
			color.New(color.FgCyan).Fprintf(c.out, "next: %s\n", *page.NextCursor)
		}
		return nil
	})
}

func (c *cli) rename(ctx context.Context, raw, title string) error {
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	return c.within(ctx, func(ctx context.Context, notes notesRepo) error {
		n, err := result.Unpack(notes.Update(ctx, id, fixtures.NoteUpdate{Title: &title}))
		if err != nil {
			return err
		}
		c.print(n)
		return nil
	})
}

func (c *cli) delete(ctx context.Context, raw, mode string) error {
	id, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	modes := map[string]repository.DeleteMode{"soft": repository.SoftDelete, "hard": repository.HardDelete}
	m, ok := modes[mode]
	if !ok {
		return fmt.Errorf("delete mode must be soft or hard, got %q", mode)
	}
	return c.within(ctx, func(ctx context.Context, notes notesRepo) error {
		existed, err := result.Unpack(notes.Delete(ctx, id, m))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "deleted=%t mode=%s\n", existed, m)
		return nil
	})
}

// demo creates A, renames it to B and soft deletes it twice.
func (c *cli) demo(ctx context.Context) error {
	step := color.New(color.FgCyan, color.Bold)
	var id uuid.UUID

	step.Fprintln(c.out, "create A")
	err := c.within(ctx, func(ctx context.Context, notes notesRepo) error {
		n, err := result.Unpack(notes.Create(ctx, fixtures.NoteCreate{Title: "A", Slug: "a-" + uuid.NewString()[:8]}))
		if err != nil {
			return err
		}
		id = n.ID
		c.print(n)
		return nil
	})
	if err != nil {
		return err
	}

	step.Fprintln(c.out, "rename to B")
	if err := c.rename(ctx, id.String(), "B"); err != nil {
		return err
	}

	step.Fprintln(c.out, "soft delete twice")
	if err := c.delete(ctx, id.String(), "soft"); err != nil {
		return err
	}
	if err := c.delete(ctx, id.String(), "soft"); err != nil {
		return err
	}

	step.Fprintln(c.out, "get still finds it, list does not")
	if err := c.get(ctx, id.String(), true); err != nil {
		return err
	}
	return c.within(ctx, func(ctx context.Context, notes notesRepo) error {
		live, err := result.Unpack(notes.Count(ctx, specification.All[fixtures.Note]()))
		if err != nil {
			return err
		}
		page, err := result.Unpack(notes.List(ctx, specification.All[fixtures.Note](), repository.ListOptions{}))
		if err != nil {
			return err
		}
		found := slices.ContainsFunc(page.Items, func(n fixtures.Note) bool { return n.ID == id })
		fmt.Fprintf(c.out, "listed=%t live=%d\n", found, live)
		return nil
	})
}
