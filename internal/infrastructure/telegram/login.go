package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Conte777/tgvault/config"
	"github.com/Conte777/tgvault/internal/domain/entities"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const loginAttempts = 3

// Prompt asks the operator for login secrets
type Prompt interface {
	Code(ctx context.Context) (string, error)
	Password(ctx context.Context) (string, error)
}

// ConsolePrompt reads secrets line by line from In
type ConsolePrompt struct {
	In      io.Reader
	Out     io.Writer
	Timeout time.Duration

	reader *bufio.Reader
}

// Code prompts for the login code
func (p *ConsolePrompt) Code(ctx context.Context) (string, error) {
	return p.ask(ctx, "Enter authentication code: ")
}

// Password prompts for the 2FA password
func (p *ConsolePrompt) Password(ctx context.Context) (string, error) {
	return p.ask(ctx, "Enter 2FA password: ")
}

func (p *ConsolePrompt) ask(ctx context.Context, label string) (string, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	if p.Out != nil {
		fmt.Fprint(p.Out, label)
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	lineChan := make(chan string, 1)
	errChan := make(chan error, 1)
	go func() {
		line, err := p.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			errChan <- fmt.Errorf("failed to read input: %w", err)
			return
		}
		lineChan <- strings.TrimSpace(line)
	}()

	select {
	case line := <-lineChan:
		return line, nil
	case err := <-errChan:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("input cancelled: %w", ctx.Err())
	case <-time.After(timeout):
		return "", fmt.Errorf("input timeout")
	}
}

// promptAuthenticator asks for the code and the 2FA password only when Telegram wants them
type promptAuthenticator struct {
	auth.UserAuthenticator
	prompt Prompt
}

func (a promptAuthenticator) Password(ctx context.Context) (string, error) {
	return a.prompt.Password(ctx)
}

// LoginOptions selects the account being logged in
type LoginOptions struct {
	Phone  string
	Backup bool
}

// Login authorizes an account interactively and stores its session. The
// account row is created when missing and reset so recovery picks it up again.
func Login(ctx context.Context, db *gorm.DB, cfg *config.TelegramConfig, opts LoginOptions, prompt Prompt, logger zerolog.Logger) (int64, error) {
	if opts.Phone == "" {
		return 0, fmt.Errorf("phone number is required")
	}
	logger = logger.With().Str("component", "login").Str("phone", maskPhoneNumber(opts.Phone)).Logger()

	account, err := ensureAccount(ctx, db, opts)
	if err != nil {
		return 0, err
	}

	client := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: NewSessionStorage(db, account.ID),
	})

	flow := auth.NewFlow(
		promptAuthenticator{
			UserAuthenticator: auth.Constant(opts.Phone, "", auth.CodeAuthenticatorFunc(
				func(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
					logger.Info().Msg("authentication code has been sent")
					return prompt.Code(ctx)
				},
			)),
			prompt: prompt,
		},
		auth.SendCodeOptions{},
	)

	err = client.Run(ctx, func(ctx context.Context) error {
		return authenticateWithRetry(ctx, client.Auth(), flow, logger)
	})
	if err != nil {
		return 0, err
	}

	err = db.WithContext(ctx).Model(&entities.Account{}).Where("id = ?", account.ID).Updates(map[string]any{
		"status":      entities.AccountStatusDisconnected,
		"is_active":   true,
		"error_count": 0,
		"last_error":  nil,
	}).Error
	if err != nil {
		return 0, fmt.Errorf("failed to reset account status: %w", err)
	}

	logger.Info().Int64("account_id", account.ID).Msg("authentication successful")
	return account.ID, nil
}

func ensureAccount(ctx context.Context, db *gorm.DB, opts LoginOptions) (*entities.Account, error) {
	account := entities.Account{
		PhoneNumber: opts.Phone,
		Status:      entities.AccountStatusAuthRequired,
		IsActive:    true,
		IsBackup:    opts.Backup,
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone_number"}},
		DoNothing: true,
	}).Create(&account).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	if err := db.WithContext(ctx).Where("phone_number = ?", opts.Phone).First(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return &account, nil
}

// authenticateWithRetry runs the flow, sleeping out flood waits and retrying
// wrong codes and transient failures with exponential backoff
func authenticateWithRetry(ctx context.Context, client *auth.Client, flow auth.Flow, logger zerolog.Logger) error {
	var lastErr error
	baseDelay := time.Second

	for attempt := 0; attempt < loginAttempts; attempt++ {
		err := client.IfNecessary(ctx, flow)
		if err == nil {
			return nil
		}
		lastErr = err

		if isNonRetryableError(err) {
			logger.Error().Err(err).Msg("non-retryable authentication error")
			return fmt.Errorf("authentication failed with non-retryable error: %w", err)
		}

		delay := baseDelay * (1 << attempt)
		if wait, ok := tgerr.AsFloodWait(err); ok {
			delay = wait
		} else if tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EXPIRED") {
			delay = 0
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("retry_delay", delay).
			Msg("authentication failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("authentication failed after %d attempts: %w", loginAttempts, lastErr)
}

// isNonRetryableError checks if an error is non-retryable and should fail immediately
func isNonRetryableError(err error) bool {
	return tgerr.Is(err,
		"PHONE_NUMBER_BANNED",
		"PHONE_NUMBER_INVALID",
		"API_ID_INVALID",
		"API_ID_PUBLISHED_FLOOD",
		"AUTH_TOKEN_INVALID",
		"PASSWORD_HASH_INVALID",
		"PHONE_NUMBER_OCCUPIED",
	) || errors.Is(err, auth.ErrPasswordInvalid)
}
