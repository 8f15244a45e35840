package discord

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/panelbot/internal/report"
	"github.com/Checker-Finance/panelbot/pkg/config"
	"github.com/Checker-Finance/panelbot/pkg/model"
)

func noContent(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

func TestCommands_Definitions(t *testing.T) {
	h := newHarness(t, noContent, func(c *config.Config) { c.PublicPanelHost = "public.example.com" })

	cmds := Commands(h.bot.app.Panels)
	require.Len(t, cmds, 5)

	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.Name)
		assert.Nil(t, c.DMPermission, "%s must be usable in DMs", c.Name)
	}
	assert.ElementsMatch(t, []string{
		"core-panel", "set-core-api-key", "public-panel", "set-public-api-key", CommandRemoveKey,
	}, names)

	powerCmd := cmds[0]
	require.Len(t, powerCmd.Options, 4)
	for _, sub := range powerCmd.Options {
		assert.Equal(t, discordgo.ApplicationCommandOptionSubCommand, sub.Type)
		require.Len(t, sub.Options, 1)
		assert.Equal(t, optionServer, sub.Options[0].Name)
		assert.True(t, sub.Options[0].Autocomplete)
		assert.True(t, sub.Options[0].Required)
	}

	remove := cmds[len(cmds)-1]
	require.Len(t, remove.Options, 1)
	assert.Len(t, remove.Options[0].Choices, 2)
}

func TestOnReady_RegistersCommandsAndBecomesHealthy(t *testing.T) {
	h := newHarness(t, noContent, func(c *config.Config) {
		c.DiscordGuildIDs = []string{"g1", "g2"}
		c.DiscordStatusText = "managing"
	})

	require.ErrorIs(t, h.bot.HealthCheck(context.Background()), ErrNotReady)
	require.NoError(t, h.bot.Start())
	assert.Equal(t, 3, h.session.handlers)

	h.bot.onReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "app", Username: "panelbot"}})

	assert.NoError(t, h.bot.HealthCheck(context.Background()))
	assert.Len(t, h.session.commands["g1"], 3)
	assert.Len(t, h.session.commands["g2"], 3)
	require.Len(t, h.session.statuses, 1)
	assert.Equal(t, "managing", h.session.statuses[0].Activities[0].State)
	assert.Equal(t, "</set-core-api-key:id-set-core-api-key>", h.bot.mention("set-core-api-key"))

	h.bot.onDisconnect(nil, &discordgo.Disconnect{})
	assert.ErrorIs(t, h.bot.HealthCheck(context.Background()), ErrNotReady)

	require.NoError(t, h.bot.Stop())
	assert.Equal(t, 0, h.session.handlers)
}

func TestOnReady_GlobalWhenNoGuilds(t *testing.T) {
	h := newHarness(t, noContent, nil)
	h.bot.onReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "app"}})

	assert.Len(t, h.session.commands[""], 3)
	assert.Empty(t, h.session.statuses)
}

func TestMention_FallsBackToPlainName(t *testing.T) {
	h := newHarness(t, noContent, nil)
	assert.Equal(t, "`/core-panel`", h.bot.mention("core-panel"))
}

func TestPower_Success(t *testing.T) {
	var gotPath, gotAuth, gotBody string
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}, nil)
	h.setKey("u1", "ptlc_secret")

	h.bot.onInteraction(nil, powerInteraction("u1", "core-panel", "restart", "abc123"))

	require.Len(t, h.session.responses, 1)
	deferred := h.session.responses[0]
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, deferred.Type)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, deferred.Data.Flags)

	e := h.session.lastEdit()
	require.NotNil(t, e)
	assert.Equal(t, "Success", e.Title)
	assert.Contains(t, e.Description, "status code 204")

	assert.Equal(t, int32(1), h.calls.Load())
	assert.Equal(t, "/api/client/servers/abc123/power", gotPath)
	assert.Equal(t, "Bearer ptlc_secret", gotAuth)
	assert.JSONEq(t, `{"signal":"restart"}`, gotBody)
	assert.Empty(t, h.reporter.all())
}

func TestPower_RemoteErrorIsReportedAndShown(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":[{"code":"AccessDeniedHttpException","status":"403","detail":"no access"}]}`))
	}, nil)
	h.setKey("u1", "ptlc_secret")

	h.bot.onInteraction(nil, powerInteraction("u1", "core-panel", "stop", "abc123"))

	e := h.session.lastEdit()
	require.NotNil(t, e)
	assert.Equal(t, "Error", e.Title)
	assert.Contains(t, e.Description, "no access")
	assert.Equal(t, int32(1), h.calls.Load())

	failures := h.reporter.all()
	require.Len(t, failures, 1)
	assert.Equal(t, report.KindRemote, failures[0].Kind)
}

func TestPower_MissingCredentialRefundsCooldown(t *testing.T) {
	h := newHarness(t, noContent, func(c *config.Config) { c.PowerCooldown = time.Hour })

	for range 2 {
		h.bot.onInteraction(nil, powerInteraction("u1", "core-panel", "kill", "abc123"))

		deferred := h.session.lastResponse()
		require.NotNil(t, deferred)
		assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, deferred.Type)

		e := h.session.lastEdit()
		require.NotNil(t, e)
		assert.Equal(t, "No API key", e.Title)
		assert.Contains(t, e.Description, "set-core-api-key")
	}

	assert.Equal(t, int32(0), h.calls.Load())
	assert.Empty(t, h.reporter.all())
}

func TestPower_CooldownBlocksSecondUse(t *testing.T) {
	h := newHarness(t, noContent, func(c *config.Config) { c.PowerCooldown = time.Hour })
	h.setKey("u1", "ptlc_secret")
	h.setKey("u2", "ptlc_other")

	h.bot.onInteraction(nil, powerInteraction("u1", "core-panel", "start", "abc123"))
	h.bot.onInteraction(nil, powerInteraction("u1", "core-panel", "start", "abc123"))

	resp := h.session.lastResponse()
	require.NotNil(t, resp)
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
	require.Len(t, resp.Data.Embeds, 1)
	assert.Contains(t, resp.Data.Embeds[0].Description, "Please wait")
	assert.Equal(t, int32(1), h.calls.Load())

	// cooldowns are per user
	h.bot.onInteraction(nil, powerInteraction("u2", "core-panel", "start", "abc123"))
	assert.Equal(t, int32(2), h.calls.Load())
}

func TestPower_UnknownCommand(t *testing.T) {
	h := newHarness(t, noContent, nil)
	h.bot.onInteraction(nil, powerInteraction("u1", "public-panel", "start", "abc123"))

	resp := h.session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Embeds[0].Description, "Unknown command")
	assert.Equal(t, int32(0), h.calls.Load())
}

func TestSetKey_StoresAndMasks(t *testing.T) {
	h := newHarness(t, noContent, nil)
	const key = "ptlc_abcdefghijklmnop"

	h.bot.onInteraction(nil, commandInteraction("u1", "set-core-api-key", stringOpt(optionKey, key)))

	rec, err := h.store.FindCredential(context.Background(), "u1")
	require.NoError(t, err)
	got, ok := rec.Key(model.FieldCorePanelKey)
	require.True(t, ok)
	assert.Equal(t, key, got)

	resp := h.session.lastResponse()
	require.NotNil(t, resp)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	desc := resp.Data.Embeds[0].Description
	assert.NotContains(t, desc, key)
	assert.Contains(t, desc, "ptlc")
}

func TestSetKey_StoreErrorIsReported(t *testing.T) {
	h := newHarness(t, noContent, nil)
	h.store.setFn = func() error { return errors.New("redis down") }

	h.bot.onInteraction(nil, commandInteraction("u1", "set-core-api-key", stringOpt(optionKey, "ptlc_x")))

	resp := h.session.lastResponse()
	require.NotNil(t, resp)
	assert.Equal(t, "Error", resp.Data.Embeds[0].Title)

	failures := h.reporter.all()
	require.Len(t, failures, 1)
	assert.Equal(t, report.KindUnexpected, failures[0].Kind)
	assert.Equal(t, "set-core-api-key", failures[0].Command)
}

func TestRemoveKey_Idempotent(t *testing.T) {
	h := newHarness(t, noContent, nil)
	h.setKey("u1", "ptlc_secret")

	h.bot.onInteraction(nil, commandInteraction("u1", CommandRemoveKey, stringOpt(optionPanel, "core")))
	first := h.session.lastResponse()
	require.NotNil(t, first)
	assert.Equal(t, "Success", first.Data.Embeds[0].Title)

	h.bot.onInteraction(nil, commandInteraction("u1", CommandRemoveKey, stringOpt(optionPanel, "core")))
	second := h.session.lastResponse()
	assert.Equal(t, "Nothing to remove", second.Data.Embeds[0].Title)

	assert.Equal(t, 2, h.store.clears)
	rec, _ := h.store.FindCredential(context.Background(), "u1")
	_, ok := rec.Key(model.FieldCorePanelKey)
	assert.False(t, ok)
}

func TestRemoveKey_UnknownPanel(t *testing.T) {
	h := newHarness(t, noContent, nil)
	h.bot.onInteraction(nil, commandInteraction("u1", CommandRemoveKey, stringOpt(optionPanel, "public")))

	resp := h.session.lastResponse()
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Embeds[0].Description, "Unknown panel")
	assert.Equal(t, 0, h.store.clears)
}

func TestAutocomplete_ReturnsFilteredChoices(t *testing.T) {
	h := newHarness(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[
			{"object":"server","attributes":{"name":"Survival","identifier":"a1b2"}},
			{"object":"server","attributes":{"name":"Creative","identifier":"c3d4"}}
		]}`))
	}, nil)
	h.setKey("u1", "ptlc_secret")

	h.bot.onInteraction(nil, autocompleteInteraction("u1", "core-panel", "surv"))

	resp := h.session.lastResponse()
	require.NotNil(t, resp)
	assert.Equal(t, discordgo.InteractionApplicationCommandAutocompleteResult, resp.Type)
	require.Len(t, resp.Data.Choices, 1)
	assert.Equal(t, "Survival (a1b2)", resp.Data.Choices[0].Name)
	assert.Equal(t, "a1b2", resp.Data.Choices[0].Value)
}

func TestAutocomplete_NoKeyRespondsEmpty(t *testing.T) {
	h := newHarness(t, noContent, nil)

	h.bot.onInteraction(nil, autocompleteInteraction("u1", "core-panel", ""))

	resp := h.session.lastResponse()
	require.NotNil(t, resp)
	assert.Equal(t, discordgo.InteractionApplicationCommandAutocompleteResult, resp.Type)
	assert.NotNil(t, resp.Data.Choices)
	assert.Empty(t, resp.Data.Choices)
	assert.Equal(t, int32(0), h.calls.Load())
	assert.Empty(t, h.reporter.all())
}

func TestOnInteraction_RecoversPanics(t *testing.T) {
	h := newHarness(t, noContent, nil)
	h.store.setFn = func() error { panic("boom") }

	assert.NotPanics(t, func() {
		h.bot.onInteraction(nil, commandInteraction("u1", "set-core-api-key", stringOpt(optionKey, "ptlc_x")))
	})

	resp := h.session.lastResponse()
	require.NotNil(t, resp)
	assert.Equal(t, "Error", resp.Data.Embeds[0].Title)

	failures := h.reporter.all()
	require.Len(t, failures, 1)
	assert.Equal(t, report.KindUnexpected, failures[0].Kind)
	assert.Contains(t, failures[0].Err.Error(), "boom")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	got := truncate(strings.Repeat("é", 120), maxChoiceName)
	assert.Len(t, []rune(got), maxChoiceName)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestCooldowns_Pruners(t *testing.T) {
	c := NewCooldowns(map[string]time.Duration{"a": time.Minute, "b": 0})
	assert.Len(t, c.Pruners(), 1)

	ok, _ := c.Take("b", "u1")
	assert.True(t, ok)
	ok, _ = c.Take("a", "u1")
	assert.True(t, ok)
	ok, wait := c.Take("a", "u1")
	assert.False(t, ok)
	assert.Greater(t, wait, 59*time.Second)

	c.Refund("a", "u1")
	ok, _ = c.Take("a", "u1")
	assert.True(t, ok)
}

func TestSetKey_InDirectMessage(t *testing.T) {
	h := newHarness(t, noContent, nil)

	ic := commandInteraction("", "set-core-api-key", stringOpt(optionKey, "ptlc_dm_key"))
	ic.Member = nil
	ic.User = &discordgo.User{ID: "dm-user"}
	h.bot.onInteraction(nil, ic)

	rec, err := h.store.FindCredential(context.Background(), "dm-user")
	require.NoError(t, err)
	key, ok := rec.Key(model.FieldCorePanelKey)
	require.True(t, ok)
	assert.Equal(t, "ptlc_dm_key", key)
}
