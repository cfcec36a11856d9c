// authclient - консольный клиент: входит в выбранное пространство и
// выполняет одну команду через authclient.Coordinator.
//
// Использование:
//
//	authclient -base http://localhost:8080 -audience admin -email a@b.c me
//	authclient -audience admin -email a@b.c upload ./lecture.mp4
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/pribylovaa/edu-auth/pkg/authclient"
)

// readPassword подменяется в тестах, чтобы не трогать терминал.
var readPassword = term.ReadPassword

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("authclient", flag.ContinueOnError)
	fs.SetOutput(out)

	base := fs.String("base", "http://localhost:8080", "API base url")
	aud := fs.String("audience", "frontend", "token namespace: admin or frontend")
	email := fs.String("email", "", "login email")
	verbose := fs.Bool("v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() == 0 {
		return errors.New("command required: me | upload <file>")
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	c, err := authclient.New(authclient.Options{
		BaseURL:  *base,
		Audience: *aud,
		Logger:   log,
		OnSessionReset: func() {
			fmt.Fprintln(out, "session expired, please log in again")
		},
	})
	if err != nil {
		return err
	}

	reader := bufio.NewReader(stdin)
	if *email == "" {
		if *email, err = getSimpleText(reader, "Enter email", out); err != nil {
			return err
		}
	}

	pw, err := getPassword(out)
	if err != nil {
		return err
	}
	defer wipe(pw)

	sess, err := c.Login(ctx, *email, string(pw))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "logged in as %s (%s)\n", sess.Email, sess.Audience)

	defer func() {
		if err := c.Logout(context.WithoutCancel(ctx)); err != nil {
			log.Warn("logout_failed", slog.String("err", err.Error()))
		}
	}()

	switch cmd := fs.Arg(0); cmd {
	case "me":
		id, err := c.Me(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "user_id=%s email=%s role=%s audience=%s\n", id.UserID, id.Email, id.Role, id.Audience)
		return nil
	case "upload":
		if fs.NArg() < 2 {
			return errors.New("upload: file path required")
		}
		return upload(ctx, c, fs.Arg(1), out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func upload(ctx context.Context, c *authclient.Coordinator, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		ct = "video/mp4"
	}

	target, err := c.PresignVideo(ctx, ct, st.Size())
	if err != nil {
		return err
	}

	if err := c.Upload(ctx, target, f, st.Size()); err != nil {
		return err
	}

	fmt.Fprintf(out, "uploaded %s -> %s\n", filepath.Base(path), target.ObjectKey)
	return nil
}

// getSimpleText печатает подсказку и читает одну строку без перевода строки.
func getSimpleText(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+"\n> "); err != nil {
		return "", err
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}

	return strings.TrimSpace(line), nil
}

// getPassword читает пароль из терминала без эха.
func getPassword(w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(w, "Enter password: "); err != nil {
		return nil, err
	}

	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}

	return pw, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
