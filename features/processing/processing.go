package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"arbiter/features/duel"
	"arbiter/features/prefs"
	"arbiter/internal/adapter/chatapi"
	"arbiter/internal/adapter/gemini"
	"arbiter/internal/audit"
)

// Outcomes reported back to the orchestrator. A business failure means the
// job itself could not be completed; the round trip still counts as a healthy
// invocation.
const (
	OutcomeSuccess         = "success"
	OutcomeBusinessFailure = "business_failure"
)

// Actions taken for a successful job.
const (
	ActionReplied = "replied"
	ActionSkipped = "skipped"
)

// Result is the callback's verdict on one job.
type Result struct {
	Outcome      string `json:"outcome"`
	Detail       string `json:"detail,omitempty"`
	Action       string `json:"action,omitempty"`
	Mode         string `json:"mode,omitempty"`
	MessagesSent int    `json:"messagesSent"`
}

// ChatEvent is the platform event stored in the job payload.
type ChatEvent struct {
	Type        string `json:"type"`
	User        string `json:"user"`
	BotID       string `json:"bot_id,omitempty"`
	Text        string `json:"text"`
	Ts          string `json:"ts"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	Channel     string `json:"channel"`
	ChannelType string `json:"channel_type,omitempty"`
}

// Generator produces one model response for a conversation.
type Generator interface {
	Generate(ctx context.Context, p gemini.Params, turns []gemini.Turn) (string, error)
}

// ChatClient is the slice of the chat API the processor needs.
type ChatClient interface {
	ThreadReplies(ctx context.Context, channel, threadTS string) ([]chatapi.Message, error)
	ParentMessage(ctx context.Context, channel, threadTS string) (*chatapi.Message, error)
	PostMessage(ctx context.Context, msg chatapi.PostMessageRequest) (string, error)
}

// DuelStore persists duels and their posted message timestamps.
type DuelStore interface {
	Create(ctx context.Context, d *duel.Duel, responses []*duel.Response) error
	SetPostedTS(ctx context.Context, responseID int64, ts string) error
}

// PrefsStore resolves a user's generation settings.
type PrefsStore interface {
	Get(ctx context.Context, userID string) (*prefs.Preferences, error)
}

type Service struct {
	gen       Generator
	chat      ChatClient
	duels     DuelStore
	prefs     PrefsStore
	auditLog  *audit.Logger
	botUserID string
}

func NewService(gen Generator, chat ChatClient, duels DuelStore, prefsStore PrefsStore, auditLog *audit.Logger, botUserID string) *Service {
	return &Service{
		gen:       gen,
		chat:      chat,
		duels:     duels,
		prefs:     prefsStore,
		auditLog:  auditLog,
		botUserID: botUserID,
	}
}

// Process runs the business logic for one claimed job. It never returns an
// error; anything that prevents completion becomes a business failure so the
// orchestrator can record it against the job.
func (s *Service) Process(ctx context.Context, jobID int64, payload json.RawMessage) *Result {
	res := s.process(ctx, payload)

	s.auditLog.Log(audit.Entry{
		Event:   "job_processed",
		JobID:   jobID,
		Outcome: res.Outcome,
		Detail:  res.Detail,
	})
	return res
}

func (s *Service) process(ctx context.Context, payload json.RawMessage) *Result {
	var ev ChatEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return &Result{Outcome: OutcomeBusinessFailure, Detail: fmt.Sprintf("malformed event payload: %v", err)}
	}

	// The webhook already drops bot traffic; this guards jobs enqueued
	// before the bot identity was known.
	if ev.BotID != "" || (s.botUserID != "" && ev.User == s.botUserID) {
		return &Result{Outcome: OutcomeSuccess, Action: ActionSkipped, Detail: "own bot message"}
	}

	threadTS := ev.ThreadTS
	if threadTS == "" {
		threadTS = ev.Ts
	}

	respond, err := s.shouldRespond(ctx, ev, threadTS)
	if err != nil {
		return &Result{Outcome: OutcomeBusinessFailure, Detail: fmt.Sprintf("checking thread parent: %v", err)}
	}
	if !respond {
		slog.InfoContext(ctx, "event not addressed to the bot", "channel", ev.Channel, "ts", ev.Ts)
		return &Result{Outcome: OutcomeSuccess, Action: ActionSkipped, Detail: "not addressed to the bot"}
	}

	turns, err := s.conversation(ctx, ev.Channel, threadTS)
	if err != nil {
		return &Result{Outcome: OutcomeBusinessFailure, Detail: fmt.Sprintf("fetching thread history: %v", err)}
	}
	if len(turns) == 0 {
		turns = []gemini.Turn{{Role: gemini.RoleUser, Text: chatapi.StripMentions(ev.Text)}}
	}

	p, err := s.prefs.Get(ctx, ev.User)
	if err != nil {
		return &Result{Outcome: OutcomeBusinessFailure, Detail: fmt.Sprintf("loading preferences: %v", err)}
	}

	if p.Mode == prefs.ModeChat {
		return s.replyChat(ctx, ev, threadTS, p, turns)
	}
	return s.replyDuel(ctx, ev, threadTS, p, turns)
}

// shouldRespond mirrors how a human decides the message is for the bot:
// direct messages always are, otherwise the message or the thread's parent
// must mention it.
func (s *Service) shouldRespond(ctx context.Context, ev ChatEvent, threadTS string) (bool, error) {
	if ev.ChannelType == "im" {
		return true, nil
	}
	mention := "<@" + s.botUserID + ">"
	if strings.Contains(ev.Text, mention) {
		return true, nil
	}

	parent, err := s.chat.ParentMessage(ctx, ev.Channel, threadTS)
	if err != nil {
		return false, err
	}
	if parent == nil {
		return false, nil
	}
	return strings.Contains(parent.Text, mention), nil
}

// conversation converts the thread into model turns. Messages authored by
// the bot become model turns, everything else user turns.
func (s *Service) conversation(ctx context.Context, channel, threadTS string) ([]gemini.Turn, error) {
	msgs, err := s.chat.ThreadReplies(ctx, channel, threadTS)
	if err != nil {
		return nil, err
	}

	turns := make([]gemini.Turn, 0, len(msgs))
	for _, msg := range msgs {
		role := gemini.RoleUser
		if msg.User == s.botUserID || msg.BotID != "" {
			role = gemini.RoleModel
		}
		text := chatapi.StripMentions(msg.Text)
		if text == "" {
			continue
		}
		turns = append(turns, gemini.Turn{Role: role, Text: text})
	}
	return turns, nil
}

func (s *Service) replyChat(ctx context.Context, ev ChatEvent, threadTS string, p *prefs.Preferences, turns []gemini.Turn) *Result {
	text, err := s.gen.Generate(ctx, genParams(p.Chat), turns)
	if err != nil {
		return &Result{Outcome: OutcomeBusinessFailure, Mode: prefs.ModeChat, Detail: fmt.Sprintf("generating response: %v", err)}
	}

	_, err = s.chat.PostMessage(ctx, chatapi.PostMessageRequest{
		Channel:  ev.Channel,
		ThreadTS: replyThreadTS(ev, threadTS),
		Text:     fmt.Sprintf("<@%s> %s", ev.User, text),
	})
	if err != nil {
		return &Result{Outcome: OutcomeBusinessFailure, Mode: prefs.ModeChat, Detail: fmt.Sprintf("posting response: %v", err)}
	}

	slog.InfoContext(ctx, "chat reply posted", "channel", ev.Channel, "user", ev.User)
	return &Result{Outcome: OutcomeSuccess, Action: ActionReplied, Mode: prefs.ModeChat, MessagesSent: 1}
}

func (s *Service) replyDuel(ctx context.Context, ev ChatEvent, threadTS string, p *prefs.Preferences, turns []gemini.Turn) *Result {
	fail := func(sent int, format string, args ...interface{}) *Result {
		return &Result{
			Outcome:      OutcomeBusinessFailure,
			Mode:         prefs.ModeDuel,
			MessagesSent: sent,
			Detail:       fmt.Sprintf(format, args...),
		}
	}

	textA, err := s.gen.Generate(ctx, genParams(p.VariantA), turns)
	if err != nil {
		return fail(0, "generating response A: %v", err)
	}
	textB, err := s.gen.Generate(ctx, genParams(p.VariantB), turns)
	if err != nil {
		return fail(0, "generating response B: %v", err)
	}

	conversation, err := json.Marshal(storedTurns(turns))
	if err != nil {
		return fail(0, "encoding conversation: %v", err)
	}

	d := &duel.Duel{
		UserID:       ev.User,
		ChannelID:    ev.Channel,
		ThreadTS:     threadTS,
		Prompt:       ev.Text,
		Conversation: conversation,
	}
	responses := []*duel.Response{
		newResponse(duel.VariantA, textA, p.VariantA),
		newResponse(duel.VariantB, textB, p.VariantB),
	}
	if err := s.duels.Create(ctx, d, responses); err != nil {
		return fail(0, "storing duel: %v", err)
	}

	replyTS := replyThreadTS(ev, threadTS)
	sent := 0

	if _, err := s.chat.PostMessage(ctx, chatapi.PostMessageRequest{
		Channel:  ev.Channel,
		ThreadTS: replyTS,
		Text:     duel.IntroText(ev.User),
	}); err != nil {
		return fail(sent, "posting intro: %v", err)
	}
	sent++

	for _, resp := range responses {
		blocks, err := duel.ResponseBlocks(resp.ResponseText, resp.Variant, d.ID)
		if err != nil {
			return fail(sent, "building blocks for response %s: %v", resp.Variant, err)
		}
		ts, err := s.chat.PostMessage(ctx, chatapi.PostMessageRequest{
			Channel:  ev.Channel,
			ThreadTS: replyTS,
			Text:     fmt.Sprintf("Response %s", resp.Variant),
			Blocks:   blocks,
		})
		if err != nil {
			return fail(sent, "posting response %s: %v", resp.Variant, err)
		}
		sent++

		if err := s.duels.SetPostedTS(ctx, resp.ID, ts); err != nil {
			slog.WarnContext(ctx, "failed to record posted timestamp", "response_id", resp.ID, "error", err)
		}
	}

	slog.InfoContext(ctx, "duel posted", "duel_id", d.ID, "channel", ev.Channel, "user", ev.User)
	return &Result{Outcome: OutcomeSuccess, Action: ActionReplied, Mode: prefs.ModeDuel, MessagesSent: sent}
}

// replyThreadTS keeps direct-message replies at the top level; everything
// else goes into the thread.
func replyThreadTS(ev ChatEvent, threadTS string) string {
	if ev.ChannelType == "im" && ev.ThreadTS == "" {
		return ""
	}
	return threadTS
}

func genParams(v prefs.VariantSettings) gemini.Params {
	return gemini.Params{
		Model:        v.Model,
		SystemPrompt: v.SystemPrompt,
		Temperature:  v.Temperature,
		MaxTokens:    prefs.DefaultMaxTokens,
	}
}

func newResponse(variant, text string, v prefs.VariantSettings) *duel.Response {
	return &duel.Response{
		Variant:      variant,
		ResponseText: text,
		ModelName:    v.Model,
		SystemPrompt: v.SystemPrompt,
		Temperature:  v.Temperature,
		MaxTokens:    prefs.DefaultMaxTokens,
	}
}

type storedTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

func storedTurns(turns []gemini.Turn) []storedTurn {
	out := make([]storedTurn, len(turns))
	for i, t := range turns {
		out[i] = storedTurn{Role: t.Role, Text: t.Text}
	}
	return out
}
