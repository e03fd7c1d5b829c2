package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"licsrv/internal/config"
	"licsrv/internal/exporter"
	"licsrv/internal/infrastructure"
	"licsrv/internal/license"
)

var errUsage = errors.New("usage: licensectl <hash-password|hwid|generate|list|export|revoke|activate|note|delete|validate> [flags] [args]")

type cli struct {
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	loadConfig func() (*config.Config, error)
	openStore  func(context.Context, config.StoreConfig, *slog.Logger) (license.Store, io.Closer, error)
	user       string
	now        func() time.Time
	localHWID  func() (string, error)
}

// session is an opened store with the engine and validator built over it.
type session struct {
	cfg       *config.Config
	engine    *license.Engine
	validator *license.Validator
	actor     license.Actor
	closer    io.Closer
	closeLog  func() error
}

func (s *session) Close() error {
	return errors.Join(s.closer.Close(), s.closeLog())
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "hash-password":
		return c.hashPassword(rest)
	case "hwid":
		return c.hwid(rest)
	case "generate":
		return c.generate(ctx, rest)
	case "list":
		return c.list(ctx, rest)
	case "export":
		return c.export(ctx, rest)
	case "revoke", "activate", "delete":
		return c.mutate(ctx, cmd, rest)
	case "note":
		return c.note(ctx, rest)
	case "validate":
		return c.validate(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprintln(c.stdout, errUsage.Error())
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
	}
}

func (c *cli) flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) hashPassword(args []string) error {
	fs := c.flags("hash-password")
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := c.readPassword()
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("password is empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), *cost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	fmt.Fprintln(c.stdout, string(hash))
	return nil
}

// readPassword prompts with echo disabled on a terminal and otherwise reads
// one line from stdin.
func (c *cli) readPassword() (string, error) {
	if f, ok := c.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(c.stderr, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// open loads configuration and opens the durable store.
func (c *cli) open(ctx context.Context) (*session, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Store.Driver == config.DriverMemory {
		return nil, fmt.Errorf("store driver %q is not durable; set %s_STORE_DRIVER=postgres and %s_STORE_DSN",
			cfg.Store.Driver, config.EnvPrefix, config.EnvPrefix)
	}

	// Command output goes to stdout; logs stay on stderr.
	logCfg := cfg.Logging
	logCfg.Output = "stdout"
	logger, closeLog, err := infrastructure.NewLogger(logCfg, c.stderr)
	if err != nil {
		return nil, err
	}

	store, closer, err := c.openStore(ctx, cfg.Store, logger)
	if err != nil {
		closeLog()
		return nil, err
	}

	subject := c.user
	if subject == "" {
		subject = "licensectl"
	}
	return &session{
		cfg: cfg,
		engine: license.NewEngine(store,
			license.WithTokenGenerator(license.NewTokenGenerator(cfg.Keys.Prefix)),
			license.WithMaxGenerateAttempts(cfg.Keys.MaxGenerateAttempts),
			license.WithLogger(logger),
		),
		validator: license.NewValidator(store, nil, nil, logger),
		actor:     license.Actor{Subject: subject, Method: "cli", AuthenticatedAt: c.clock()},
		closer:    closer,
		closeLog:  closeLog,
	}, nil
}

func (c *cli) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *cli) generate(ctx context.Context, args []string) error {
	fs := c.flags("generate")
	note := fs.String("note", "", "free-text note stored with the key")
	count := fs.IntP("count", "n", 1, "number of keys to generate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *count < 1 {
		return errors.New("--count must be at least 1")
	}

	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	for i := 0; i < *count; i++ {
		rec, err := s.engine.Generate(ctx, s.actor, *note)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, rec.Key)
	}
	return nil
}

func (c *cli) list(ctx context.Context, args []string) error {
	fs := c.flags("list")
	showHWID := fs.Bool("hwid", false, "show full HWIDs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	tw := tabwriter.NewWriter(c.stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "KEY\tSTATE\tHWID\tCREATED\tNOTE\n")
	for rec, err := range s.engine.List(ctx) {
		if err != nil {
			return err
		}
		hwid := rec.HWID
		if !*showHWID && hwid != "" {
			hwid = license.MaskKey(hwid)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.Key, rec.State(), orDash(hwid), humanize.RelTime(rec.CreatedAt, c.clock(), "ago", "from now"), orDash(rec.Note))
	}
	return tw.Flush()
}

func (c *cli) export(ctx context.Context, args []string) error {
	fs := c.flags("export")
	formatName := fs.StringP("format", "f", "csv", "csv or xlsx")
	out := fs.StringP("output", "o", "", "output file (defaults to a timestamped name)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	format, err := exporter.ParseFormat(*formatName)
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = format.FileName(c.clock())
	}

	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := exporter.Write(f, format, s.engine.List(ctx))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}

	fmt.Fprintf(c.stdout, "exported %s keys to %s\n", humanize.Comma(int64(n)), path)
	return nil
}

func (c *cli) mutate(ctx context.Context, cmd string, args []string) error {
	fs := c.flags(cmd)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: licensectl %s KEY", cmd)
	}
	key := fs.Arg(0)

	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	switch cmd {
	case "revoke":
		err = s.engine.Revoke(ctx, s.actor, key)
	case "activate":
		err = s.engine.Activate(ctx, s.actor, key)
	case "delete":
		err = s.engine.Delete(ctx, s.actor, key)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "%sd %s\n", strings.TrimSuffix(cmd, "e"), key)
	return nil
}

func (c *cli) note(ctx context.Context, args []string) error {
	fs := c.flags("note")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: licensectl note KEY TEXT")
	}

	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.engine.UpdateNote(ctx, s.actor, fs.Arg(0), fs.Arg(1)); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "updated note on %s\n", fs.Arg(0))
	return nil
}

func (c *cli) validate(ctx context.Context, args []string) error {
	fs := c.flags("validate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return errors.New("usage: licensectl validate KEY [HWID]")
	}
	hwid := fs.Arg(1)
	if fs.NArg() == 1 {
		local, err := c.localHWID()
		if err != nil {
			return fmt.Errorf("derive local hwid: %w", err)
		}
		hwid = local
	}

	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	verdict, err := s.validator.Validate(ctx, fs.Arg(0), hwid)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, verdict)
	if !verdict.Valid {
		return errInvalid
	}
	return nil
}

// hwid prints this machine's hardware id, the value a client tool here would
// present on validation.
func (c *cli) hwid(args []string) error {
	fs := c.flags("hwid")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("usage: licensectl hwid")
	}
	id, err := c.localHWID()
	if err != nil {
		return fmt.Errorf("derive local hwid: %w", err)
	}
	fmt.Fprintln(c.stdout, id)
	return nil
}

// errInvalid makes a rejected validation exit non-zero without extra output.
var errInvalid = errors.New("license rejected")

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
