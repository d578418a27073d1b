package treantai

import (
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityLabel(t *testing.T) {
	var a activityLabel
	assert.Equal(t, Activity{}, a.Load())

	a.Store(Activity{Name: "Minecraft", Type: discordgo.ActivityTypeGame})
	assert.Equal(t, Activity{Name: "Minecraft", Type: discordgo.ActivityTypeGame}, a.Load())
}

func TestActivityLabel_Concurrent(t *testing.T) {
	var a activityLabel
	names := []string{"a", "b", "c", "d", "e"}

	wg := sync.WaitGroup{}
	for _, name := range names {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Store(Activity{Name: name, Type: discordgo.ActivityTypeWatching})
		}()
	}
	wg.Wait()

	// any of the writes may win
	assert.Contains(t, names, a.Load().Name)
}

func TestWatchUserAndReset(t *testing.T) {
	bot, session := newTestTreantai(t, nil)
	u := newDiscordUser(t)

	bot.watchUser(u)
	assert.Equal(
		t,
		Activity{Name: u.String(), Type: discordgo.ActivityTypeWatching},
		bot.activity.Load(),
	)

	bot.watchUser(nil)
	bot.resetActivity()
	assert.Equal(
		t,
		Activity{Name: DefaultDiscordActivity, Type: discordgo.ActivityTypeGame},
		bot.activity.Load(),
	)

	updates := drain(session.callUpdateStatus)
	require.Len(t, updates, 2)
	for _, update := range updates {
		assert.Equal(t, string(discordgo.StatusOnline), update.Status)
		require.Len(t, update.Activities, 1)
	}
	assert.Equal(t, discordgo.ActivityTypeWatching, updates[0].Activities[0].Type)
	assert.Equal(t, discordgo.ActivityTypeGame, updates[1].Activities[0].Type)
}
