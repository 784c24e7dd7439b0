package notify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_Valid(t *testing.T) {
	for _, l := range []Level{LevelInfo, LevelSuccess, LevelWarning, LevelError} {
		assert.True(t, l.Valid(), string(l))
	}
	assert.False(t, Level("fatal").Valid())
	assert.False(t, Level("").Valid())
}

func TestMulti_FansOutInOrder(t *testing.T) {
	var order []string
	first := Func(func(m string, _ Level) { order = append(order, "first:"+m) })
	second := Func(func(m string, _ Level) { order = append(order, "second:"+m) })

	Multi{first, nil, second}.Notify("hello", LevelInfo)

	assert.Equal(t, []string{"first:hello", "second:hello"}, order)
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	_, ok := r.Last()
	assert.False(t, ok)

	r.Notify("Tentative de synchronisation...", LevelInfo)
	r.Notify("Synchronisé avec succès !", LevelSuccess)

	msgs := r.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, Message{Text: "Tentative de synchronisation...", Level: LevelInfo}, msgs[0])

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, LevelSuccess, last.Level)

	msgs[0].Text = "mutated"
	assert.Equal(t, "Tentative de synchronisation...", r.Messages()[0].Text)

	r.Reset()
	assert.Empty(t, r.Messages())
}

func TestRecorder_Concurrent(t *testing.T) {
	r := &Recorder{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Notify("x", LevelInfo)
		}()
	}
	wg.Wait()
	assert.Len(t, r.Messages(), 20)
}

func TestLogAndNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Log{}.Notify("Vous êtes hors ligne. Mode dégradé activé.", LevelWarning)
		Log{}.Notify("Erreur critique lors de la synchronisation", LevelError)
		Log{}.Notify("Connexion rétablie.", LevelInfo)
		Nop.Notify("ignored", LevelSuccess)
	})
}
