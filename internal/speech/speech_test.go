package speech

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahcohcat/voiceforge/internal/logger"
	"github.com/tahcohcat/voiceforge/internal/studio"
)

const sayListing = `Alex                en_US    # Most people recognize me by my voice.
Bad News            en_US    # The light you see at the end of the tunnel is the headlamp of a fast approaching train.
Amélie              fr_CA    # Bonjour, je m’appelle Amélie.

`

const espeakListing = `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 2  en-gb           --/M      English_(Great_Britain) gmw/en            (en 2)
 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
`

func TestParseSayVoices(t *testing.T) {
	voices := ParseSayVoices([]byte(sayListing))
	assert.Equal(t, []studio.Voice{
		{Name: "Alex", Lang: "en-US"},
		{Name: "Bad News", Lang: "en-US"},
		{Name: "Amélie", Lang: "fr-CA"},
	}, voices)
}

func TestParseEspeakVoices(t *testing.T) {
	voices, ids := ParseEspeakVoices([]byte(espeakListing))
	assert.Equal(t, []studio.Voice{
		{Name: "Afrikaans", Lang: "af"},
		{Name: "English_(Great_Britain)", Lang: "en-gb"},
		{Name: "English_(America)", Lang: "en-us"},
	}, voices)
	assert.Equal(t, "gmw/en-US", ids["English_(America)"])
}

func TestRateAndPitchMapping(t *testing.T) {
	assert.Equal(t, 175, WordsPerMinute(1))
	assert.Equal(t, 88, WordsPerMinute(0.5))
	assert.Equal(t, 350, WordsPerMinute(2))
	assert.Equal(t, 175, WordsPerMinute(0))

	assert.Equal(t, 50, EspeakPitch(1))
	assert.Equal(t, 25, EspeakPitch(0.5))
	assert.Equal(t, 99, EspeakPitch(2))
	assert.Equal(t, 0, EspeakPitch(-1))
}

func TestSayArgs(t *testing.T) {
	c := NewCommand(EngineSay, "say", logger.NewNop())
	assert.Equal(t, []string{"-r", "263", "-v", "Alex", "-f", "-"},
		c.args(studio.Utterance{Text: "hi", Voice: "Alex", Rate: 1.5, Pitch: 2}))
	assert.Equal(t, []string{"-r", "175", "-f", "-"},
		c.args(studio.Utterance{Text: "hi", Rate: 1, Pitch: 1}))
}

func TestSilent(t *testing.T) {
	s := NewSilent(logger.NewNop())
	assert.Empty(t, s.Voices())

	called := false
	err := s.Speak(studio.Utterance{Text: "hi"}, func(error) { called = true })
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, called)
	s.Cancel()
}

// fakeEspeak installs a shell script standing in for espeak-ng. body runs for
// every invocation except the voice listing.
func fakeEspeak(t *testing.T, body string) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script engine stub needs a POSIX shell")
	}
	dir := t.TempDir()
	script := "#!/bin/sh\n" +
		"dir=$(dirname \"$0\")\n" +
		"if [ \"$1\" = \"--voices\" ]; then\n" +
		"cat <<'EOF'\n" + espeakListing + "EOF\n" +
		"exit 0\n" +
		"fi\n" +
		body + "\n"
	path := filepath.Join(dir, "espeak-ng")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, dir
}

func TestCommandSpeak(t *testing.T) {
	path, dir := fakeEspeak(t, "echo \"$@\" > \"$dir/args.txt\"\ncat > \"$dir/spoken.txt\"")
	c := NewCommand(EngineEspeakNG, path, logger.NewNop())

	assert.Len(t, c.Voices(), 3)

	done := make(chan error, 1)
	require.NoError(t, c.Speak(studio.Utterance{
		Text:  "Hello there",
		Voice: "English_(America)",
		Rate:  1.5,
		Pitch: 1.2,
	}, func(err error) { done <- err }))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("speech process never finished")
	}

	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	assert.Equal(t, "-s 263 -p 60 -v gmw/en-US --stdin", strings.TrimSpace(string(args)))

	spoken, err := os.ReadFile(filepath.Join(dir, "spoken.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello there", string(spoken))
}

func TestCommandCancel(t *testing.T) {
	path, _ := fakeEspeak(t, "exec sleep 30")
	c := NewCommand(EngineEspeakNG, path, logger.NewNop())

	done := make(chan error, 1)
	require.NoError(t, c.Speak(studio.Utterance{Text: "long", Rate: 1, Pitch: 1}, func(err error) { done <- err }))

	c.Cancel()
	select {
	case err := <-done:
		assert.Error(t, err, "killed process reports an error")
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop the speech process")
	}

	c.Cancel()
}

func TestCommandStartFailure(t *testing.T) {
	c := NewCommand(EngineEspeakNG, filepath.Join(t.TempDir(), "missing"), logger.NewNop())
	err := c.Speak(studio.Utterance{Text: "hi", Rate: 1, Pitch: 1}, func(error) {})
	assert.Error(t, err)
}
