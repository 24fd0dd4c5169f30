package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Conte777/tgvault/internal/domain"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/domain/events"
	"github.com/rs/zerolog"
)

// MonitorStatus describes an attached live listener
type MonitorStatus struct {
	ChannelID  int64     `json:"channel_id"`
	TelegramID int64     `json:"telegram_id"`
	AccountID  int64     `json:"account_id"`
	Since      time.Time `json:"since"`
}

type monitor struct {
	status      MonitorStatus
	unsubscribe func()
}

// LiveMonitor attaches one update handler per monitored channel
type LiveMonitor struct {
	channels   ChannelStore
	conns      *connections
	pipe       *pipeline
	writer     Writer
	enrichment EnrichmentQueue
	publisher  events.Publisher
	logger     zerolog.Logger

	mu       sync.Mutex
	monitors map[int64]*monitor
}

func newLiveMonitor(
	channels ChannelStore,
	conns *connections,
	pipe *pipeline,
	writer Writer,
	enrichment EnrichmentQueue,
	publisher events.Publisher,
	logger zerolog.Logger,
) *LiveMonitor {
	return &LiveMonitor{
		channels:   channels,
		conns:      conns,
		pipe:       pipe,
		writer:     writer,
		enrichment: enrichment,
		publisher:  publisher,
		logger:     logger.With().Str("component", "live").Logger(),
		monitors:   make(map[int64]*monitor),
	}
}

// Start flips the monitoring flag and attaches the listener
func (l *LiveMonitor) Start(ctx context.Context, channelID int64) error {
	ch, err := l.channels.GetByID(ctx, channelID)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.monitors[channelID]; ok {
		return domain.ErrAlreadyMonitoring
	}

	accountID, client, err := l.conns.forChannel(ctx, ch)
	if err != nil {
		return err
	}

	// The flag survives restarts while the listener does not.
	if err := l.channels.SetMonitoring(ctx, channelID, true); err != nil && !errors.Is(err, domain.ErrAlreadyMonitoring) {
		return err
	}

	l.attachLocked(ch, accountID, client)
	return nil
}

// Stop detaches the listener and clears the monitoring flag
func (l *LiveMonitor) Stop(ctx context.Context, channelID int64) error {
	l.mu.Lock()
	m, attached := l.monitors[channelID]
	if attached {
		m.unsubscribe()
		delete(l.monitors, channelID)
	}
	l.mu.Unlock()

	err := l.channels.SetMonitoring(ctx, channelID, false)
	if err != nil && !(attached && errors.Is(err, domain.ErrNotMonitoring)) {
		return err
	}

	l.logger.Info().Int64("channel_id", channelID).Msg("Live monitor detached")
	return nil
}

// Restore re-attaches listeners for every channel flagged as monitored
func (l *LiveMonitor) Restore(ctx context.Context) (int, error) {
	channels, err := l.channels.ListMonitoring(ctx)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	restored := 0
	for i := range channels {
		ch := &channels[i]
		if _, ok := l.monitors[ch.ID]; ok {
			continue
		}

		accountID, client, err := l.conns.forChannel(ctx, ch)
		if err != nil {
			l.logger.Warn().Err(err).Int64("channel_id", ch.ID).Msg("Failed to restore live monitor")
			continue
		}
		l.attachLocked(ch, accountID, client)
		restored++
	}
	return restored, nil
}

// DetachAll removes every listener but keeps the flags so Restore can re-attach
func (l *LiveMonitor) DetachAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, m := range l.monitors {
		m.unsubscribe()
		delete(l.monitors, id)
	}
}

// Active lists attached listeners ordered by channel
func (l *LiveMonitor) Active() []MonitorStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]MonitorStatus, 0, len(l.monitors))
	for _, m := range l.monitors {
		out = append(out, m.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

func (l *LiveMonitor) attachLocked(ch *entities.MonitoredChannel, accountID int64, client domain.Client) {
	h := &channelHandler{
		live:      l,
		channel:   ch,
		accountID: accountID,
		logger: l.logger.With().
			Int64("channel_id", ch.ID).
			Int64("account_id", accountID).
			Logger(),
	}
	l.monitors[ch.ID] = &monitor{
		status: MonitorStatus{
			ChannelID:  ch.ID,
			TelegramID: ch.TelegramID,
			AccountID:  accountID,
			Since:      time.Now(),
		},
		unsubscribe: client.Subscribe(h),
	}
	h.logger.Info().Int64("telegram_id", ch.TelegramID).Msg("Live monitor attached")
}

// channelHandler receives every update of its client and keeps those of one channel
type channelHandler struct {
	live      *LiveMonitor
	channel   *entities.MonitoredChannel
	accountID int64
	logger    zerolog.Logger
}

func (h *channelHandler) OnNewMessage(ctx context.Context, msg domain.RawMessage) {
	if msg.ChannelID != h.channel.TelegramID {
		return
	}

	res := h.live.pipe.store(ctx, h.channel, h.accountID, ModeLive, []domain.RawMessage{msg})
	if len(res.stored) == 0 {
		h.logger.Debug().Int64("message_id", msg.ID).Int("duplicates", res.duplicates).Msg("Live message not stored")
		return
	}

	s := res.stored[0]
	pending := msg.SenderID > 0 && h.live.enrichment != nil && h.live.enrichment.IsPending(msg.SenderID)
	data := map[string]any{
		"message_id":         msg.ID,
		"row_id":             s.row.ID,
		"sender_id":          msg.SenderID,
		"text":               msg.Text,
		"type":               s.row.MessageType,
		"date":               msg.Date.UTC(),
		"has_media":          msg.Media != nil,
		"enrichment_pending": pending,
	}
	if msg.GroupedID != 0 {
		data["grouped_id"] = msg.GroupedID
	}
	events.Emit(ctx, h.live.publisher, h.logger, events.New(events.NewMessage, h.channel.ID, data))
}

func (h *channelHandler) OnEditMessage(ctx context.Context, msg domain.RawMessage) {
	if msg.ChannelID != h.channel.TelegramID {
		return
	}

	// An edit can be the first sighting of a message, so its sender row must exist.
	senders := h.live.pipe.upsertSenders(ctx, []domain.RawMessage{msg})
	row, err := h.live.writer.UpdateMessageEdit(ctx, messageRecord(msg, h.channel.ID, senders[msg.SenderID]))
	if err != nil {
		h.logger.Warn().Err(err).Int64("message_id", msg.ID).Msg("Failed to apply message edit")
		return
	}

	data := map[string]any{"message_id": msg.ID, "row_id": row.ID, "text": msg.Text}
	if msg.EditDate != nil {
		data["edit_date"] = msg.EditDate.UTC()
	}
	events.Emit(ctx, h.live.publisher, h.logger, events.New(events.MessageEdited, h.channel.ID, data))
}

// OnDeleteMessages only notifies; stored rows are kept
func (h *channelHandler) OnDeleteMessages(ctx context.Context, channelID int64, ids []int64) {
	if channelID != h.channel.TelegramID || len(ids) == 0 {
		return
	}
	events.Emit(ctx, h.live.publisher, h.logger, events.New(events.MessageDeleted, h.channel.ID, map[string]any{
		"message_ids": ids,
	}))
}
