// Command voiceforge is the terminal studio: it keeps the OpenAI key in a
// local store, previews text with the system speech engine and generates MP3s
// through a VoiceForge server.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tahcohcat/voiceforge/config"
	"github.com/tahcohcat/voiceforge/internal/database"
	"github.com/tahcohcat/voiceforge/internal/logger"
	"github.com/tahcohcat/voiceforge/internal/speech"
	"github.com/tahcohcat/voiceforge/internal/studio"
)

const usage = `usage: voiceforge [global flags] <command> [flags] [args]

commands:
  key set <value|->     store the OpenAI API key
  key clear             forget the stored key
  key status            show whether a key is stored
  voices                list studio and preview voices
  preview <text|->      speak text with the system speech engine
  generate <text|->     generate an MP3 through the proxy

global flags:
`

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	viper      *viper.Viper
	httpClient *http.Client
	speaker    func(*logger.Log) studio.Speaker

	cfg    *config.Config
	logger *logger.Log
	db     *database.DB
	creds  *database.Credentials
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		viper:   config.New(),
		speaker: speech.Detect,
	}

	if err := a.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "voiceforge:", err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("voiceforge", pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.SetInterspersed(false)
	fs.Usage = func() {
		fmt.Fprint(a.stderr, usage)
		fs.PrintDefaults()
	}

	fs.String("proxy-url", "", "VoiceForge server that proxies generation")
	fs.String("store-path", "", "SQLite file holding the key")
	fs.String("store-secret", "", "passphrase used to encrypt the stored key")
	logLevel := fs.String("log-level", "warn", "debug, info, warn or error")
	verbose := fs.BoolP("verbose", "v", false, "shorthand for --log-level=debug")

	if err := fs.Parse(args); err != nil {
		return err
	}

	for key, flag := range map[string]string{
		"client.proxy_url":    "proxy-url",
		"client.store_path":   "store-path",
		"client.store_secret": "store-secret",
	} {
		if err := a.viper.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}

	level := logger.LogLevel(*logLevel)
	if *verbose {
		level = logger.LogLevelDebug
	}
	if err := logger.Init(level, true); err != nil {
		return err
	}
	defer logger.Sync()
	a.logger = logger.New().Named("cli")

	cfg, err := config.LoadFrom(a.viper)
	if err != nil {
		return err
	}
	a.cfg = cfg

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return fmt.Errorf("missing command")
	}

	if err := a.openStore(); err != nil {
		return err
	}
	defer a.db.Close()

	switch rest[0] {
	case "key":
		return a.keyCommand(ctx, rest[1:])
	case "voices":
		return a.voicesCommand(ctx)
	case "preview":
		return a.previewCommand(ctx, rest[1:])
	case "generate":
		return a.generateCommand(ctx, rest[1:])
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func (a *app) openStore() error {
	db, err := database.NewDB(a.cfg.Client.StorePath)
	if err != nil {
		return err
	}
	a.db = db
	a.creds = database.NewCredentials(db, a.cfg.Client.StoreSecret)
	return nil
}

// newForm wires a Form to the local store, the system speech engine and the
// proxy. onSpoken, when set, observes every finished preview.
func (a *app) newForm(ctx context.Context, onSpoken func(error)) (*studio.Form, studio.Speaker, error) {
	speaker := a.speaker(a.logger)
	if onSpoken != nil {
		speaker = &observedSpeaker{Speaker: speaker, onSpoken: onSpoken}
	}

	form, err := studio.NewForm(ctx, studio.Deps{
		Credentials: a.creds,
		Speaker:     speaker,
		Generator:   studio.NewProxyClient(a.cfg.Client.ProxyURL, a.httpClient),
		Audio:       studio.NewFileAudio(""),
		Logger:      a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return form, speaker, nil
}

// readText returns the single text argument, or stdin when it is "-".
func (a *app) readText(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("missing text argument (use - to read stdin)")
	}
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(a.stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	return strings.Join(args, " "), nil
}

type observedSpeaker struct {
	studio.Speaker
	onSpoken func(error)
}

func (s *observedSpeaker) Speak(u studio.Utterance, done func(error)) error {
	return s.Speaker.Speak(u, func(err error) {
		done(err)
		s.onSpoken(err)
	})
}
