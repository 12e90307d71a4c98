package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/schollz/closestmatch"
	"github.com/spf13/pflag"

	"github.com/tahcohcat/voiceforge/internal/speech"
	"github.com/tahcohcat/voiceforge/internal/studio"
	"github.com/tahcohcat/voiceforge/internal/tts"
)

func (a *app) keyCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: voiceforge key set|clear|status")
	}

	switch args[0] {
	case "set":
		value, err := a.readText(args[1:])
		if err != nil {
			return err
		}
		form, _, err := a.newForm(ctx, nil)
		if err != nil {
			return err
		}
		defer form.Close()
		if err := form.SetCredential(ctx, value); err != nil {
			return errors.New(studio.MessageOf(err))
		}
		fmt.Fprintf(a.stdout, "Key saved to %s\n", a.cfg.Client.StorePath)
		return nil

	case "clear":
		form, _, err := a.newForm(ctx, nil)
		if err != nil {
			return err
		}
		defer form.Close()
		if err := form.ClearCredential(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, "Key cleared")
		return nil

	case "status":
		value, err := a.creds.Load(ctx)
		if err != nil {
			return err
		}
		if strings.TrimSpace(value) == "" {
			fmt.Fprintln(a.stdout, "Not connected")
			return nil
		}
		encrypted, err := a.creds.Encrypted(ctx)
		if err != nil {
			return err
		}
		storage := "plaintext"
		if encrypted {
			storage = "encrypted"
		}
		fmt.Fprintf(a.stdout, "Connected (%s, %s)\n", storage, a.cfg.Client.StorePath)
		return nil

	default:
		return fmt.Errorf("unknown key command %q", args[0])
	}
}

func (a *app) voicesCommand(ctx context.Context) error {
	form, speaker, err := a.newForm(ctx, nil)
	if err != nil {
		return err
	}
	defer form.Close()

	fmt.Fprintln(a.stdout, "Studio voices (MP3):")
	for _, v := range tts.Voices {
		fmt.Fprintf(a.stdout, "  %s\n", v)
	}

	engine := "no engine"
	if c, ok := speaker.(*speech.Command); ok {
		engine = string(c.Engine())
	}
	fmt.Fprintf(a.stdout, "Preview voices (%s):\n", engine)

	voices := form.State().Voices
	if len(voices) == 0 {
		fmt.Fprintln(a.stdout, "  No voices detected")
	}
	for _, v := range voices {
		fmt.Fprintf(a.stdout, "  %s (%s)\n", v.Name, v.Lang)
	}
	return nil
}

func (a *app) previewCommand(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("preview", pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.String("preview-voice", "", "system voice name")
	fs.Float64("rate", tts.DefaultSpeed, "speaking rate, 0.5 to 2")
	fs.Float64("pitch", 1, "pitch, 0.5 to 2 (espeak only)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a.bindFlags(fs, "preview", "preview-voice", "rate", "pitch")

	text, err := a.readText(fs.Args())
	if err != nil {
		return err
	}

	finished := make(chan error, 1)
	form, _, err := a.newForm(ctx, func(err error) {
		select {
		case finished <- err:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer form.Close()

	voice := a.viper.GetString("preview.preview-voice")
	if voice != "" {
		names := make([]string, 0, len(form.State().Voices))
		for _, v := range form.State().Voices {
			names = append(names, v.Name)
		}
		if !slices.Contains(names, voice) {
			a.suggest(voice, names, "the system default voice")
		}
	}

	if err := form.Preview(text, voice, a.viper.GetFloat64("preview.rate"), a.viper.GetFloat64("preview.pitch")); err != nil {
		if studio.IsUserError(err) {
			return errors.New(studio.MessageOf(err))
		}
		return err
	}

	select {
	case err := <-finished:
		if err != nil {
			a.logger.WithError(err).Debug("preview ended with error")
		}
		return nil
	case <-ctx.Done():
		form.Stop()
		return ctx.Err()
	}
}

func (a *app) generateCommand(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("generate", pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.String("voice", tts.DefaultVoice, "studio voice: "+strings.Join(tts.Voices, ", "))
	fs.Float64("speed", tts.DefaultSpeed, "speed, 0.5 to 2")
	output := fs.StringP("output", "o", "", "MP3 file to write (default voiceforge-<ms>.mp3)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a.bindFlags(fs, "generate", "voice", "speed")

	text, err := a.readText(fs.Args())
	if err != nil {
		return err
	}

	voice := a.viper.GetString("generate.voice")
	if !tts.IsVoice(voice) {
		a.suggest(voice, tts.Voices, tts.DefaultVoice)
	}

	form, _, err := a.newForm(ctx, nil)
	if err != nil {
		return err
	}
	defer form.Close()

	result, err := form.Generate(ctx, text, voice, a.viper.GetFloat64("generate.speed"))
	if err != nil {
		return errors.New(studio.MessageOf(err))
	}

	dest := *output
	if dest == "" {
		dest = result.FileName
	}
	if err := copyFile(result.URL, dest); err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Wrote %s (%s)\n", dest, result.Summary)
	return nil
}

// bindFlags exposes a command's flags as <command>.<flag> in viper, so
// VOICEFORGE_GENERATE_VOICE and friends work as defaults.
func (a *app) bindFlags(fs *pflag.FlagSet, command string, names ...string) {
	for _, name := range names {
		key := command + "." + name
		a.viper.BindEnv(key, "VOICEFORGE_"+strings.ToUpper(strings.NewReplacer("-", "_").Replace(command+"_"+name)))
		if err := a.viper.BindPFlag(key, fs.Lookup(name)); err != nil {
			a.logger.WithError(err).Warn("failed to bind flag")
		}
	}
}

func (a *app) suggest(input string, options []string, fallback string) {
	msg := fmt.Sprintf("unknown voice %q", input)
	if len(options) > 0 {
		cm := closestmatch.New(options, []int{1, 2, 3})
		if best := cm.Closest(input); best != "" {
			msg += fmt.Sprintf(", did you mean %q?", best)
		}
	}
	fmt.Fprintf(a.stderr, "%s Using %s.\n", msg, fallback)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open generated audio: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return out.Close()
}
