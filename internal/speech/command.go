package speech

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tahcohcat/voiceforge/internal/logger"
	"github.com/tahcohcat/voiceforge/internal/studio"
)

type Engine string

const (
	EngineSay      Engine = "say"
	EngineEspeakNG Engine = "espeak-ng"
	EngineEspeak   Engine = "espeak"
)

// Engines in lookup order.
var Engines = []Engine{EngineSay, EngineEspeakNG, EngineEspeak}

const (
	baseWordsPerMinute = 175
	listTimeout        = 5 * time.Second
)

// Command speaks through a local text-to-speech binary, one process per
// utterance.
type Command struct {
	engine Engine
	path   string
	logger *logger.Log

	voicesOnce sync.Once
	voices     []studio.Voice
	voiceIDs   map[string]string

	mu      sync.Mutex
	current *exec.Cmd
}

// Detect returns a speaker for the first engine found on PATH, or Silent.
func Detect(log *logger.Log) studio.Speaker {
	for _, engine := range Engines {
		if path, err := exec.LookPath(string(engine)); err == nil {
			return NewCommand(engine, path, log)
		}
	}
	return NewSilent(log)
}

func NewCommand(engine Engine, path string, log *logger.Log) *Command {
	if log == nil {
		log = logger.New()
	}
	return &Command{
		engine: engine,
		path:   path,
		logger: log.Named("speech").With(zap.String("engine", string(engine))),
	}
}

func (c *Command) Engine() Engine {
	return c.engine
}

func (c *Command) Voices() []studio.Voice {
	c.voicesOnce.Do(c.loadVoices)
	return append([]studio.Voice(nil), c.voices...)
}

func (c *Command) loadVoices() {
	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()

	var args []string
	if c.engine == EngineSay {
		args = []string{"-v", "?"}
	} else {
		args = []string{"--voices"}
	}

	out, err := exec.CommandContext(ctx, c.path, args...).Output()
	if err != nil {
		c.logger.WithError(err).Warn("failed to list voices")
		return
	}

	if c.engine == EngineSay {
		c.voices = ParseSayVoices(out)
		return
	}
	c.voices, c.voiceIDs = ParseEspeakVoices(out)
}

func (c *Command) Speak(u studio.Utterance, done func(error)) error {
	c.Voices()
	cmd := exec.Command(c.path, c.args(u)...)
	cmd.Stdin = strings.NewReader(u.Text)

	c.mu.Lock()
	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to start %s: %w", c.engine, err)
	}
	c.current = cmd
	c.mu.Unlock()

	go func() {
		err := cmd.Wait()

		c.mu.Lock()
		if c.current == cmd {
			c.current = nil
		}
		c.mu.Unlock()

		done(err)
	}()
	return nil
}

// Cancel kills the utterance in progress, if any.
func (c *Command) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return
	}
	if err := c.current.Process.Kill(); err != nil {
		c.logger.WithError(err).Debug("failed to kill speech process")
	}
	c.current = nil
}

// args builds the command line; the text itself goes on stdin.
func (c *Command) args(u studio.Utterance) []string {
	wpm := strconv.Itoa(WordsPerMinute(u.Rate))

	if c.engine == EngineSay {
		args := []string{"-r", wpm}
		if u.Voice != "" {
			args = append(args, "-v", u.Voice)
		}
		// say has no pitch control.
		return append(args, "-f", "-")
	}

	args := []string{"-s", wpm, "-p", strconv.Itoa(EspeakPitch(u.Pitch))}
	if u.Voice != "" {
		voice := u.Voice
		if id, ok := c.voiceIDs[u.Voice]; ok {
			voice = id
		}
		args = append(args, "-v", voice)
	}
	return append(args, "--stdin")
}

// WordsPerMinute maps a 1.0-based rate to the speaking rate of the binaries.
func WordsPerMinute(rate float64) int {
	if rate <= 0 {
		rate = 1
	}
	return int(math.Round(baseWordsPerMinute * rate))
}

// EspeakPitch maps a 1.0-based pitch to espeak's 0-99 scale, 50 being normal.
func EspeakPitch(pitch float64) int {
	p := int(math.Round(50 * pitch))
	return min(99, max(0, p))
}

// ParseSayVoices reads `say -v ?` output:
//
//	Alex                en_US    # Most people recognize me by my voice.
//	Bad News            en_US    # The light you see at the end of the tunnel...
func ParseSayVoices(out []byte) []studio.Voice {
	var voices []studio.Voice
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		lang := fields[len(fields)-1]
		voices = append(voices, studio.Voice{
			Name: strings.Join(fields[:len(fields)-1], " "),
			Lang: strings.ReplaceAll(lang, "_", "-"),
		})
	}
	return voices
}

// ParseEspeakVoices reads `espeak-ng --voices` output and also returns the
// voice file for each name, which is what -v accepts:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US            (en 10)
func ParseEspeakVoices(out []byte) ([]studio.Voice, map[string]string) {
	var voices []studio.Voice
	ids := make(map[string]string)

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] == "Pty" {
			continue
		}
		name := fields[3]
		if _, dup := ids[name]; dup {
			continue
		}
		voices = append(voices, studio.Voice{Name: name, Lang: fields[1]})
		ids[name] = fields[4]
	}
	return voices, ids
}
