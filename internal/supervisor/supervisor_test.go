package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
)

func TestSpawnOptionsValidate(t *testing.T) {
	cases := []struct {
		name    string
		opts    SpawnOptions
		wantErr bool
	}{
		{"valid", SpawnOptions{MinHeapGiB: 1, MaxHeapGiB: 4, ServerJar: "server.jar"}, false},
		{"equal heaps ok", SpawnOptions{MinHeapGiB: 2, MaxHeapGiB: 2, ServerJar: "server.jar"}, false},
		{"min exceeds max", SpawnOptions{MinHeapGiB: 8, MaxHeapGiB: 4, ServerJar: "server.jar"}, true},
		{"missing jar", SpawnOptions{MinHeapGiB: 1, MaxHeapGiB: 4}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSpawnOptionsArgv(t *testing.T) {
	opts := SpawnOptions{
		MinHeapGiB:   2,
		MaxHeapGiB:   6,
		ExtraJVMArgs: []string{"@libraries/net/neoforged/argfile.txt"},
		ServerJar:    "server.jar",
		ExtraMCArgs:  []string{"--world", "survival"},
	}
	argv := opts.Argv()
	assert.Equal(t, []string{
		"-Xmx6G", "-Xms2G",
		"@libraries/net/neoforged/argfile.txt",
		"-jar", "server.jar", "nogui",
		"--world", "survival",
	}, argv)
}

func TestDoneLineMatchesReadyBanner(t *testing.T) {
	assert.True(t, doneLineRe.MatchString(`[12:00:00] [Server thread/INFO]: Done (23.456s)! For help, type "help"`))
	assert.False(t, doneLineRe.MatchString(`[12:00:00] [Server thread/INFO]: Starting minecraft server version 1.21.1`))
}

func TestJavaVersionErrorMatchesBothLoaderVariants(t *testing.T) {
	assert.True(t, javaVersionErrorRe.MatchString("java.lang.UnsupportedClassVersionError: Main has been compiled by a more recent version"))
	assert.True(t, javaVersionErrorRe.MatchString("This version of Minecraft requires Java version 21 or above"))
	assert.False(t, javaVersionErrorRe.MatchString("Loading properties"))
}

func TestBroadcastFansOutToAllOutputSubscribers(t *testing.T) {
	s := New(nil)
	chA, unsubA := s.SubscribeOutput()
	defer unsubA()
	chB, unsubB := s.SubscribeOutput()
	defer unsubB()

	s.broadcast("hello world")

	select {
	case line := <-chA:
		assert.Equal(t, "hello world", line)
	case <-time.After(time.Second):
		t.Fatal("subscriber A never received line")
	}
	select {
	case line := <-chB:
		assert.Equal(t, "hello world", line)
	case <-time.After(time.Second):
		t.Fatal("subscriber B never received line")
	}
}

func TestUnsubscribeOutputClosesChannel(t *testing.T) {
	s := New(nil)
	ch, unsub := s.SubscribeOutput()
	unsub()

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestSplitLongLinesPreservesOversizedLineWithoutLoss(t *testing.T) {
	const maxSize = 64
	long := strings.Repeat("x", maxSize*2+10) + "\n" + "short\n"

	scanner := bufio.NewScanner(strings.NewReader(long))
	scanner.Buffer(make([]byte, 0, 16), maxSize)
	scanner.Split(splitLongLines(maxSize))

	var tokens []string
	for scanner.Scan() {
		tokens = append(tokens, scanner.Text())
		assert.LessOrEqual(t, len(scanner.Bytes()), maxSize)
	}
	require.NoError(t, scanner.Err())

	var rebuilt bytes.Buffer
	for _, tok := range tokens[:len(tokens)-1] {
		rebuilt.WriteString(tok)
	}
	assert.Equal(t, strings.Repeat("x", maxSize*2+10), rebuilt.String(), "split should not lose or duplicate bytes")
	assert.Equal(t, "short", tokens[len(tokens)-1])
}

func TestSplitLongLinesHandlesOrdinaryLines(t *testing.T) {
	scanner := bufio.NewScanner(strings.NewReader("one\ntwo\nthree"))
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	scanner.Split(splitLongLines(maxLineSize))

	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestStartRejectsInvalidSpawnOptions(t *testing.T) {
	s := New(nil)
	err := s.Start(context.Background(), SpawnOptions{MinHeapGiB: 4, MaxHeapGiB: 1, ServerJar: "server.jar"})
	assert.Error(t, err)
	assert.False(t, s.IsRunning())
}

func TestStartRejectsConcurrentStart(t *testing.T) {
	s := New(nil)
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	err := s.Start(context.Background(), SpawnOptions{ServerJar: "server.jar", MaxHeapGiB: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ctlerrors.ErrStateConflict)
}

func TestExitCallbackFiresOnceAfterProcessExits(t *testing.T) {
	exitCh := make(chan int, 1)
	s := New(func(code int) { exitCh <- code })

	err := s.Start(context.Background(), SpawnOptions{
		JavaExecutable: "false",
		MaxHeapGiB:     1,
		ServerJar:      "server.jar",
	})
	require.NoError(t, err)

	select {
	case code := <-exitCh:
		assert.NotEqual(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("onExit never fired")
	}

	deadline := time.After(time.Second)
	for s.IsRunning() {
		select {
		case <-deadline:
			t.Fatal("supervisor still reports running after process exit")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
