package treantai

import (
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Activity is the presence label shown on the bot's profile
type Activity struct {
	Name string                 `json:"name"`
	Type discordgo.ActivityType `json:"type"`
}

// activityLabel holds the process-wide activity label. Concurrent
// interactions overwrite it freely: the last write wins, and there's no
// guarantee which write that is.
type activityLabel struct {
	current atomic.Pointer[Activity]
}

func (a *activityLabel) Load() Activity {
	if v := a.current.Load(); v != nil {
		return *v
	}
	return Activity{}
}

func (a *activityLabel) Store(v Activity) {
	a.current.Store(&v)
}

// setActivity records the activity label and pushes it to Discord. Errors
// are logged, never returned, so a failed presence update never interrupts
// a command.
func (t *Treantai) setActivity(name string, activityType discordgo.ActivityType) {
	act := Activity{Name: name, Type: activityType}
	t.activity.Store(act)

	if t.discord == nil || t.discord.session == nil {
		return
	}
	err := t.discord.session.UpdateStatusComplex(
		discordgo.UpdateStatusData{
			Status: string(discordgo.StatusOnline),
			Activities: []*discordgo.Activity{
				{Name: act.Name, Type: act.Type},
			},
		},
	)
	if err != nil {
		t.discord.logger.Warn(
			"error updating activity",
			tint.Err(err),
			slog.Group("activity", "name", act.Name, "type", int(act.Type)),
		)
	}
}

// watchUser sets the activity label to 'Watching <user tag>'
func (t *Treantai) watchUser(u *discordgo.User) {
	if u == nil {
		return
	}
	t.setActivity(u.String(), discordgo.ActivityTypeWatching)
}

// resetActivity restores the configured default activity label
func (t *Treantai) resetActivity() {
	t.setActivity(t.config.Discord.Activity, discordgo.ActivityTypeGame)
}
