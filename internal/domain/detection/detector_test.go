package detection

import (
	"context"
	"testing"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/Conte777/tgvault/internal/domain/events"
	"github.com/Conte777/tgvault/internal/infrastructure/database"
	"github.com/Conte777/tgvault/internal/infrastructure/database/dbtest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(findings []Finding) map[string][]string {
	out := make(map[string][]string)
	for _, f := range findings {
		out[f.Kind] = append(out[f.Kind], f.Value)
	}
	return out
}

func TestScan(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name string
		text string
		kind string
		want []string
	}{
		{"email", "write to John.Doe@Example.com please", KindEmail, []string{"john.doe@example.com"}},
		{"card passes luhn", "card 4111 1111 1111 1111 exp 12/30", KindCard, []string{"4111111111111111"}},
		{"eth", "send to 0x52908400098527886E0F7030069857D2E4169EE7", KindETH, []string{"0x52908400098527886e0f7030069857d2e4169ee7"}},
		{"btc bech32", "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", KindBTC, []string{"bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"}},
		{"btc legacy", "old wallet 1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2 here", KindBTC, []string{"1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"}},
		{"tron", "usdt TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", KindTRON, []string{"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"}},
		{"telegram invite", "join https://t.me/+AbCdEf123", KindTelegramURL, []string{"t.me/+abcdef123"}},
		{"url", "see https://example.org/page?id=1.", KindURL, []string{"https://example.org/page?id=1"}},
		{"mention", "ask @durov_team about it", KindMention, []string{"@durov_team"}},
		{"phone", "call +7 (916) 123-45-67 now", KindPhone, []string{"+79161234567"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := kinds(d.Scan(tt.text))
			assert.Equal(t, tt.want, got[tt.kind])
		})
	}
}

func TestScan_Rejections(t *testing.T) {
	d := NewDetector()

	got := kinds(d.Scan("order 4111 1111 1111 1112 and mail me at bob@example.com"))
	assert.Empty(t, got[KindCard], "number failing the checksum is not a card")
	assert.Empty(t, got[KindMention], "e-mail local part is not a mention")

	got = kinds(d.Scan("https://t.me/somechannel"))
	assert.Empty(t, got[KindURL])
	assert.Equal(t, []string{"t.me/somechannel"}, got[KindTelegramURL])

	assert.Nil(t, d.Scan("   "))
}

func TestScan_Deduplicates(t *testing.T) {
	got := NewDetector().Scan("a@b.io and again A@B.IO")
	assert.Equal(t, []Finding{{Kind: KindEmail, Value: "a@b.io"}}, got)
}

func TestLuhn(t *testing.T) {
	assert.True(t, luhn("79927398713"))
	assert.False(t, luhn("79927398710"))
}

func TestScanMessage_PersistsOnce(t *testing.T) {
	db := dbtest.New(t)
	sessions := database.NewSessionManager(db, &config.DatabaseConfig{MaxRetries: 1}, nil, zerolog.Nop())
	rec := &events.Recorder{}
	svc := NewService(sessions, rec, &config.DetectionConfig{Enabled: true}, nil, zerolog.Nop())

	text := "contact x@y.com or 0x52908400098527886E0F7030069857D2E4169EE7"
	msg := &entities.Message{MessageID: 10, ChannelID: 1, Text: &text, MessageType: "text", Date: time.Now()}
	require.NoError(t, db.Create(msg).Error)

	findings, err := svc.ScanMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Len(t, findings, 2)

	_, err = svc.ScanMessage(context.Background(), msg)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&entities.Detection{}).Where("message_id = ?", msg.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	assert.Len(t, rec.OfType(events.DetectionFound), 2)
}

func TestScanMessage_Disabled(t *testing.T) {
	svc := NewService(nil, nil, &config.DetectionConfig{Enabled: false}, nil, zerolog.Nop())

	text := "x@y.com"
	findings, err := svc.ScanMessage(context.Background(), &entities.Message{Text: &text})
	require.NoError(t, err)
	assert.Nil(t, findings)
}
