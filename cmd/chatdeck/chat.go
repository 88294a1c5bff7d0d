// ABOUTME: Interactive terminal chat backed by the same session controller as the server
// ABOUTME: Supports conversation management commands and image generation from the prompt

package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/2389/chatdeck/internal/imagegen"
	"github.com/2389/chatdeck/internal/server"
	"github.com/2389/chatdeck/internal/session"
	"github.com/2389/chatdeck/internal/store"
)

const chatHelp = `Commands:
  /new             start a new conversation
  /list            list conversations
  /open <n|id>     switch to a conversation
  /delete <n|id>   delete a conversation
  /image <prompt>  generate an image
  /help            show this help
  /quit            exit`

// chatSession holds the REPL state
type chatSession struct {
	ctrl   *session.Controller
	images *imagegen.Service
	out    io.Writer
	r      *renderer
}

func runChat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	remote := fs.String("remote", "", "Base URL of a chatdeck server; generation goes through its /functions/v1 endpoints")
	user := fs.String("user", "", "Conversation owner (defaults to auth.local_user)")
	width := fs.Int("width", 100, "Word wrap width for replies")
	verbose := fs.Bool("verbose", false, "Log at debug level to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(&colorHandler{mu: &sync.Mutex{}, out: os.Stderr, level: level})

	backend, chat, images, err := localDeps(ctx, cfg, *remote, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	mgr := session.NewManager(session.ManagerConfig{
		Backend:          backend,
		Generator:        chat,
		KeyPrefix:        cfg.Storage.Key,
		MaxConversations: cfg.Storage.MaxConversations,
		Logger:           logger,
	})
	defer mgr.Close()

	owner := *user
	if owner == "" {
		owner = cfg.Auth.LocalUser
	}
	ctrl, err := mgr.For(ctx, owner)
	if err != nil {
		return err
	}

	cs := &chatSession{
		ctrl:   ctrl,
		images: imagegen.NewService(images, server.ImageDefaults(cfg.Image), logger),
		out:    os.Stdout,
		r:      newRenderer(*width),
	}

	target := "local " + cfg.Chat.Provider
	if *remote != "" {
		target = *remote
	}
	fmt.Fprint(cs.out, cs.r.info("chatdeck %s · %s · /help for commands", version, target))
	if err := cs.showCurrent(ctx); err != nil {
		return err
	}

	if err := cs.loop(ctx, os.Stdin); err != nil {
		return err
	}
	fmt.Fprintln(cs.out, "\nGoodbye!")
	return nil
}

// loop reads lines until EOF, /quit or ctx is cancelled
func (cs *chatSession) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
			return
		}
		readErr <- io.EOF
	}()

	for {
		fmt.Fprint(cs.out, "> ")

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-lines:
		}

		quit, err := cs.handle(ctx, strings.TrimSpace(input))
		if err != nil {
			if errors.Is(err, store.ErrCorrupt) {
				return err
			}
			fmt.Fprint(cs.out, cs.r.notification(session.Notification{Title: "Error", Message: err.Error()}))
		}
		if quit {
			return nil
		}
	}
}

// handle runs one line of input and reports whether the REPL should exit
func (cs *chatSession) handle(ctx context.Context, input string) (bool, error) {
	if input == "" {
		return false, nil
	}
	if !strings.HasPrefix(input, "/") {
		return false, cs.send(ctx, input)
	}

	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help":
		fmt.Fprintln(cs.out, chatHelp)
	case "/new":
		if _, err := cs.ctrl.StartNew(ctx); err != nil {
			return false, err
		}
		fmt.Fprint(cs.out, cs.r.info("Started %q", store.DefaultTitle))
	case "/list":
		return false, cs.list(ctx)
	case "/open":
		id, err := cs.resolve(ctx, arg)
		if err != nil {
			return false, err
		}
		if _, err := cs.ctrl.SelectConversation(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				if _, openErr := cs.ctrl.Open(ctx); openErr != nil {
					return false, openErr
				}
			}
			return false, err
		}
		return false, cs.showCurrent(ctx)
	case "/delete":
		id, err := cs.resolve(ctx, arg)
		if err != nil {
			return false, err
		}
		if err := cs.ctrl.DeleteConversation(ctx, id); err != nil {
			return false, err
		}
		fmt.Fprint(cs.out, cs.r.notification(session.Notification{
			Title:   "Conversation deleted",
			Message: "The conversation has been permanently removed.",
		}))
	case "/image":
		return false, cs.image(ctx, arg)
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

func (cs *chatSession) send(ctx context.Context, text string) error {
	fmt.Fprint(cs.out, cs.r.info("thinking..."))

	out, err := cs.ctrl.Send(ctx, text)
	if err != nil {
		return err
	}
	if out.Err != nil {
		fmt.Fprint(cs.out, cs.r.notification(session.FailureNotification(out.Err)))
		return nil
	}
	if out.Reply != nil {
		fmt.Fprintln(cs.out)
		fmt.Fprint(cs.out, cs.r.message(*out.Reply))
	}
	return nil
}

func (cs *chatSession) list(ctx context.Context) error {
	snap, err := cs.ctrl.View(ctx)
	if err != nil {
		return err
	}
	current := ""
	if snap.Current != nil {
		current = snap.Current.ID
	}
	fmt.Fprint(cs.out, cs.r.conversations(snap.Conversations, current))
	return nil
}

// showCurrent prints the title and messages of the current conversation
func (cs *chatSession) showCurrent(ctx context.Context) error {
	snap, err := cs.ctrl.View(ctx)
	if err != nil {
		return err
	}
	if snap.Current == nil {
		return nil
	}
	fmt.Fprint(cs.out, cs.r.info("── %s ──", snap.Current.Title))
	for _, m := range snap.Current.Messages {
		fmt.Fprint(cs.out, cs.r.message(m))
	}
	return nil
}

// resolve accepts a 1-based list position or a conversation id
func (cs *chatSession) resolve(ctx context.Context, arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("a conversation number or id is required")
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg, nil
	}
	snap, err := cs.ctrl.View(ctx)
	if err != nil {
		return "", err
	}
	if n < 1 || n > len(snap.Conversations) {
		return "", fmt.Errorf("no conversation #%d", n)
	}
	return snap.Conversations[n-1].ID, nil
}

func (cs *chatSession) image(ctx context.Context, prompt string) error {
	if prompt == "" {
		return fmt.Errorf("usage: /image <prompt>")
	}
	fmt.Fprint(cs.out, cs.r.info("generating..."))

	res, err := cs.images.Generate(ctx, prompt, imagegen.Options{})
	if err != nil {
		fmt.Fprint(cs.out, cs.r.notification(session.Notification{
			Title:   "Image generation failed",
			Message: imagegen.UserMessage(err),
		}))
		return nil
	}

	location := res.ImageURL
	if strings.HasPrefix(res.ImageURL, "data:") {
		path, err := saveDataURL(res.ImageURL, "chatdeck-"+strconv.FormatInt(cs.r.now().UnixMilli(), 10))
		if err != nil {
			return err
		}
		location = path
	}
	fmt.Fprint(cs.out, cs.r.info("%s · %s · %s · %s", location, res.Model, res.Size, res.Quality))
	return nil
}

// saveDataURL decodes a base64 data URL into base plus an extension taken
// from its media type, returning the written path.
func saveDataURL(dataURL, base string) (string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(dataURL, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return "", fmt.Errorf("unsupported image data URL")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decoding image: %w", err)
	}

	ext := ".bin"
	switch strings.TrimSuffix(header, ";base64") {
	case "image/jpeg":
		ext = ".jpg"
	case "image/png":
		ext = ".png"
	case "image/webp":
		ext = ".webp"
	}

	path := base + ext
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return path, nil
}
