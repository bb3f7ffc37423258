package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/morsel/internal/analysis"
	"github.com/hpungsan/morsel/internal/catalog"
	"github.com/hpungsan/morsel/internal/config"
	"github.com/hpungsan/morsel/internal/errors"
	"github.com/hpungsan/morsel/internal/label"
	"github.com/hpungsan/morsel/internal/ops"
	"github.com/hpungsan/morsel/internal/session"
	"github.com/hpungsan/morsel/internal/web"
)

// deps are the shared dependencies of CLI commands. Nil when only help or
// version output is requested.
type deps struct {
	db       *sql.DB
	cfg      *config.Config
	baseDir  string
	log      *zap.Logger
	gw       session.Gateway
	products *catalog.Catalog
}

// controller builds a controller for one CLI invocation. With save set, the
// analysis and its follow-ups are written to history.
func (d *deps) controller(save bool) *session.Controller {
	opts := []session.Option{session.WithLogger(d.log)}
	if save {
		opts = append(opts, session.WithRecorder(ops.NewHistoryRecorder(d.db)))
	}
	return session.New(d.gw, opts...)
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(d *deps) *cli.App {
	app := &cli.App{
		Name:    "morsel",
		Usage:   "Ingredient verdicts for packaged food",
		Version: Version,
		Commands: []*cli.Command{
			analyzeCmd(d),
			extractCmd(d),
			searchCmd(d),
			historyCmd(d),
			profileCmd(d),
			serveCmd(d),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	// Questions routinely contain commas.
	app.DisableSliceFlagSeparator = true
	return app
}

// analyzeOutput is printed by analyze.
type analyzeOutput struct {
	SessionID   string          `json:"session_id"`
	ProductName *string         `json:"product_name,omitempty"`
	Result      analysis.Result `json:"result"`
	FollowUps   []exchange      `json:"follow_ups,omitempty"`
	Saved       bool            `json:"saved"`
}

// exchange is one --ask question. Error is set instead of Reply when it failed.
type exchange struct {
	Question string `json:"question"`
	Reply    string `json:"reply,omitempty"`
	Error    string `json:"error,omitempty"`
}

// analyzeCmd creates the analyze command.
func analyzeCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Analyze an ingredient list (arguments, stdin, --image or --search)",
		ArgsUsage: "[ingredients...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "product", Aliases: []string{"p"}, Usage: "Product name"},
			&cli.StringFlag{Name: "image", Aliases: []string{"i"}, Usage: "Read ingredients from a label photo"},
			&cli.StringFlag{Name: "search", Aliases: []string{"s"}, Usage: "Use a catalog product matching this name or brand"},
			&cli.StringFlag{Name: "profile", Usage: "Dietary profile ID (default: the active profile)"},
			&cli.BoolFlag{Name: "no-profile", Usage: "Analyze without any dietary profile"},
			&cli.StringSliceFlag{Name: "ask", Aliases: []string{"a"}, Usage: "Follow-up question (repeatable)"},
			&cli.BoolFlag{Name: "chat", Usage: "Ask follow-up questions interactively after the verdict"},
			&cli.BoolFlag{Name: "no-save", Usage: "Do not save the analysis to history"},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			ingredients, productName, fromStdin, err := d.analysisInput(c)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("chat") && fromStdin {
				return outputError(errors.NewInvalidInput("--chat reads questions from stdin; pass ingredients as arguments, --image or --search"))
			}

			profile, err := d.profile(ctx, c.String("profile"), c.Bool("no-profile"))
			if err != nil {
				return outputError(err)
			}

			save := !c.Bool("no-save")
			ctrl := d.controller(save)
			result, err := ctrl.StartAnalysis(ctx, session.StartInput{
				Ingredients: ingredients,
				ProductName: productName,
				Profile:     profile,
			})
			if err != nil {
				return outputError(err)
			}

			out := analyzeOutput{Result: *result, Saved: save}
			if snap, ok := ctrl.Snapshot(); ok {
				out.SessionID = snap.ID
				out.ProductName = snap.ProductName
			}
			// A failed question still prints the verdict it follows.
			for _, q := range c.StringSlice("ask") {
				reply, err := ctrl.AskFollowUp(ctx, q, profile)
				if err != nil {
					out.FollowUps = append(out.FollowUps, exchange{Question: q, Error: formatError(err)})
					if jsonErr := outputJSON(c, out); jsonErr != nil {
						return jsonErr
					}
					return outputError(err)
				}
				out.FollowUps = append(out.FollowUps, exchange{Question: q, Reply: reply})
			}

			if err := outputJSON(c, out); err != nil {
				return err
			}
			if c.Bool("chat") {
				return chat(c, ctrl, profile)
			}
			return nil
		},
	}
}

// chat reads questions line by line until EOF, "exit" or "quit", printing
// each reply. Failed questions are reported and the loop continues.
func chat(c *cli.Context, ctrl *session.Controller, profile *analysis.Profile) error {
	w := c.App.Writer
	scanner := bufio.NewScanner(c.App.Reader)
	for {
		fmt.Fprint(c.App.ErrWriter, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.App.ErrWriter)
			return scanner.Err()
		}
		q := strings.TrimSpace(scanner.Text())
		switch q {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		reply, err := ctrl.AskFollowUp(c.Context, q, profile)
		if err != nil {
			fmt.Fprintln(c.App.ErrWriter, formatError(err))
			continue
		}
		fmt.Fprintf(w, "%s\n\n", reply)
	}
}

// analysisInput resolves the ingredients and product name for analyze from,
// in order: --image, --search, positional arguments, then piped stdin.
func (d *deps) analysisInput(c *cli.Context) (string, *string, bool, error) {
	var (
		ingredients string
		productName *string
		fromStdin   bool
	)

	sources := 0
	for _, set := range []bool{c.String("image") != "", c.String("search") != "", c.NArg() > 0} {
		if set {
			sources++
		}
	}
	if sources > 1 {
		return "", nil, false, errors.NewInvalidInput("give ingredients as arguments, --image or --search, not several")
	}

	switch {
	case c.String("image") != "":
		data, err := readImage(c.String("image"))
		if err != nil {
			return "", nil, false, err
		}
		out, err := label.New(d.gw, d.log).Extract(c.Context, data)
		if err != nil {
			return "", nil, false, err
		}
		ingredients, productName = out.Ingredients, out.ProductName
	case c.String("search") != "":
		p, err := d.products.Lookup(c.String("search"))
		if err != nil {
			return "", nil, false, err
		}
		name := p.DisplayName()
		ingredients, productName = p.Ingredients, &name
	case c.NArg() > 0:
		ingredients = strings.Join(c.Args().Slice(), " ")
	default:
		text, ok, err := readPiped(c)
		if err != nil {
			return "", nil, false, errors.NewInternal(err)
		}
		if !ok {
			return "", nil, false, errors.NewInvalidInput("ingredients are required: pass them as arguments, pipe them via stdin, or use --image or --search")
		}
		ingredients, fromStdin = text, true
	}

	if name := strings.TrimSpace(c.String("product")); name != "" {
		productName = &name
	}
	return ingredients, productName, fromStdin, nil
}

func (d *deps) profile(ctx context.Context, id string, none bool) (*analysis.Profile, error) {
	if none {
		return nil, nil
	}
	return ops.ResolveProfile(ctx, d.db, id)
}

// extractCmd creates the extract command.
func extractCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Read the ingredient list from a label photo",
		ArgsUsage: "<image>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidInput("image path is required"))
			}
			data, err := readImage(c.Args().First())
			if err != nil {
				return outputError(err)
			}
			out, err := label.New(d.gw, d.log).Extract(c.Context, data)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search the built-in product catalog by name or brand",
		ArgsUsage: "[query]",
		Action: func(c *cli.Context) error {
			items := d.products.Search(strings.Join(c.Args().Slice(), " "))
			return outputJSON(c, map[string]any{"items": items})
		},
	}
}

// historyCmd creates the history command group.
func historyCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Manage saved analyses",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List saved analyses, newest first",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "starred", Usage: "Only starred analyses"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max items (max 100)"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Items to skip"},
				},
				Action: func(c *cli.Context) error {
					out, err := ops.ListHistory(c.Context, d.db, ops.ListHistoryInput{
						StarredOnly: c.Bool("starred"),
						Limit:       c.Int("limit"),
						Offset:      c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "show",
				Usage:     "Show a saved analysis with its conversation",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					out, err := ops.ShowHistory(c.Context, d.db, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "star",
				Usage:     "Toggle the star on a saved analysis",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "set", Usage: "Set the star to this value instead of toggling (--set=false to unstar)"},
				},
				Action: func(c *cli.Context) error {
					input := ops.StarInput{ID: c.Args().First()}
					if c.IsSet("set") {
						v := c.Bool("set")
						input.Starred = &v
					}
					out, err := ops.StarHistory(c.Context, d.db, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "delete",
				Usage:     "Permanently delete a saved analysis",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					out, err := ops.DeleteHistory(c.Context, d.db, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:  "export",
				Usage: "Export saved analyses to a JSONL file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Usage: "Output file (default: ~/.morsel/exports/history-<timestamp>.jsonl)"},
					&cli.BoolFlag{Name: "starred", Usage: "Only starred analyses"},
				},
				Action: func(c *cli.Context) error {
					out, err := ops.ExportHistory(c.Context, d.db, d.cfg, ops.ExportsDir(d.baseDir), ops.ExportInput{
						Path:        c.String("path"),
						StarredOnly: c.Bool("starred"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
		},
	}
}

// profileCmd creates the profile command group.
func profileCmd(d *deps) *cli.Command {
	listFlags := []cli.Flag{
		&cli.StringFlag{Name: "restrictions", Aliases: []string{"r"}, Usage: "Comma-separated restrictions (e.g. vegan,halal)"},
		&cli.StringFlag{Name: "allergies", Aliases: []string{"a"}, Usage: "Comma-separated allergies"},
		&cli.StringFlag{Name: "preferences", Usage: "Comma-separated preferences"},
	}

	return &cli.Command{
		Name:  "profile",
		Usage: "Manage dietary profiles",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List profiles",
				Action: func(c *cli.Context) error {
					out, err := ops.ListProfiles(c.Context, d.db)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "create",
				Usage:     "Create a profile",
				ArgsUsage: "<name>",
				Flags:     append([]cli.Flag{&cli.BoolFlag{Name: "activate", Usage: "Make this the active profile"}}, listFlags...),
				Action: func(c *cli.Context) error {
					out, err := ops.CreateProfile(c.Context, d.db, ops.CreateProfileInput{
						Name:         strings.Join(c.Args().Slice(), " "),
						Restrictions: parseList(c.String("restrictions")),
						Allergies:    parseList(c.String("allergies")),
						Preferences:  parseList(c.String("preferences")),
						Activate:     c.Bool("activate"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "update",
				Usage:     "Change a profile; only the given flags are changed (pass \"\" to clear a list)",
				ArgsUsage: "<id>",
				Flags:     append([]cli.Flag{&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "New name"}}, listFlags...),
				Action: func(c *cli.Context) error {
					input := ops.UpdateProfileInput{ID: c.Args().First()}
					if c.IsSet("name") {
						name := c.String("name")
						input.Name = &name
					}
					if c.IsSet("restrictions") {
						input.Restrictions = parseListSet(c.String("restrictions"))
					}
					if c.IsSet("allergies") {
						input.Allergies = parseListSet(c.String("allergies"))
					}
					if c.IsSet("preferences") {
						input.Preferences = parseListSet(c.String("preferences"))
					}
					out, err := ops.UpdateProfile(c.Context, d.db, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "activate",
				Usage:     "Make a profile the active one",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					out, err := ops.ActivateProfile(c.Context, d.db, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:  "deactivate",
				Usage: "Clear the active profile",
				Action: func(c *cli.Context) error {
					if err := ops.DeactivateProfiles(c.Context, d.db); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"active_id": nil})
				},
			},
			{
				Name:      "delete",
				Usage:     "Permanently delete a profile",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					out, err := ops.DeleteProfile(c.Context, d.db, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(d *deps) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the JSON API over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8420, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			recorder := ops.NewHistoryRecorder(d.db)
			registry := session.NewRegistry(func() *session.Controller {
				return session.New(d.gw, session.WithLogger(d.log), session.WithRecorder(recorder))
			})
			h := web.NewHandlers(d.db, d.cfg, registry, label.New(d.gw, d.log), d.products, d.log)
			srv := web.NewServer(h, c.String("bind"), c.Int("port"))

			fmt.Fprintf(c.App.ErrWriter, "Morsel API running at http://%s\n", srv.Addr)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := web.Run(ctx, srv, d.log); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON writes v as indented JSON to the app's writer (stdout).
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatError renders an error as "[CODE] message".
func formatError(err error) string {
	mErr := errors.As(err)
	return fmt.Sprintf("[%s] %s", mErr.Code, mErr.Message)
}

// outputError formats error for CLI.
func outputError(err error) error {
	return cli.Exit(formatError(err), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readPiped reads the app's input when it is not an interactive terminal.
// ok is false when there is nothing to read.
func readPiped(c *cli.Context) (string, bool, error) {
	if c.App.Reader == os.Stdin && !stdinHasData() {
		return "", false, nil
	}
	data, err := io.ReadAll(c.App.Reader)
	if err != nil {
		return "", false, err
	}
	text := strings.TrimSpace(string(data))
	return text, text != "", nil
}

// readImage reads a label photo from disk, rejecting files over the size limit.
func readImage(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewInvalidInput(fmt.Sprintf("cannot read image: %v", err))
	}
	if info.Size() > label.MaxImageBytes {
		return nil, errors.NewInvalidInput("image exceeds 10 MB")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewInvalidInput(fmt.Sprintf("cannot read image: %v", err))
	}
	return data, nil
}

// parseList splits a comma-separated string into trimmed, non-empty items.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			items = append(items, t)
		}
	}
	return items
}

// parseListSet is parseList for explicitly set flags: an empty value yields an
// empty, non-nil list so the stored list is cleared.
func parseListSet(s string) []string {
	if items := parseList(s); items != nil {
		return items
	}
	return []string{}
}
