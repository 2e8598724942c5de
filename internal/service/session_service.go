package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/executor"
	"github.com/alanyoungcy/custodex/internal/ledger"
	"github.com/alanyoungcy/custodex/internal/session"
)

// SessionService runs staking-session instructions.
type SessionService struct {
	exec    *executor.Executor
	program *session.Program
	audit   domain.AuditStore
	events  *Publisher
	logger  *slog.Logger
}

// NewSessionService creates a SessionService.
func NewSessionService(
	exec *executor.Executor,
	program *session.Program,
	audit domain.AuditStore,
	events *Publisher,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		exec:    exec,
		program: program,
		audit:   audit,
		events:  events,
		logger:  logger.With(slog.String("component", "session_service")),
	}
}

func (s *SessionService) run(ctx context.Context, call Call, key string, fn func(*ledger.Context) error) (string, error) {
	return s.exec.Execute(ctx, executor.Request{
		ID:      call.RequestID,
		Expires: call.ExpiresAt,
		Program: session.ProgramID,
		Signers: call.Signers,
		Keys:    []string{key},
	}, fn)
}

// InitializeConfig writes the program config.
func (s *SessionService) InitializeConfig(ctx context.Context, call Call, admin domain.Address, platformFee uint16, allowedMints []domain.Address) (domain.Address, error) {
	var addr domain.Address
	id, err := s.run(ctx, call, "session-config", func(c *ledger.Context) error {
		var err error
		addr, err = s.program.InitializeConfig(c, admin, platformFee, allowedMints)
		return err
	})
	if err != nil {
		return domain.Address{}, fmt.Errorf("session_service: initialize config: %w", err)
	}
	auditLog(ctx, s.audit, s.logger, "session_config_written", map[string]any{
		"request_id":    id,
		"config":        addr.String(),
		"platform_fee":  platformFee,
		"allowed_mints": len(allowedMints),
	})
	s.logger.InfoContext(ctx, "session config written",
		slog.String("request_id", id),
		slog.Int("platform_fee", int(platformFee)),
		slog.Int("allowed_mints", len(allowedMints)),
	)
	return addr, nil
}

// InitializeProfile creates owner's profile.
func (s *SessionService) InitializeProfile(ctx context.Context, call Call, owner domain.Address, username string) (domain.Address, error) {
	var addr domain.Address
	id, err := s.run(ctx, call, "profile:"+owner.String(), func(c *ledger.Context) error {
		var err error
		addr, err = s.program.InitializeProfile(c, owner, username)
		return err
	})
	if err != nil {
		return domain.Address{}, fmt.Errorf("session_service: initialize profile: %w", err)
	}
	auditLog(ctx, s.audit, s.logger, "profile_created", map[string]any{
		"request_id": id,
		"profile":    addr.String(),
		"owner":      owner.String(),
		"username":   username,
	})
	return addr, nil
}

// InitializeGame opens a session with the owner seated and staked.
func (s *SessionService) InitializeGame(ctx context.Context, call Call, owner domain.Address, seed uint64, stakeMint domain.Address, entryStake uint64, seats uint8, waitTime int64) (session.Session, error) {
	game, _, err := session.GameAddress(seed, owner)
	if err != nil {
		return session.Session{}, fmt.Errorf("session_service: initialize game: %w", err)
	}
	var out session.Session
	id, err := s.run(ctx, call, "session:"+game.String(), func(c *ledger.Context) error {
		var err error
		out, err = s.program.InitializeGame(c, owner, seed, stakeMint, entryStake, seats, waitTime)
		return err
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("session_service: initialize game: %w", err)
	}

	s.events.Publish(ctx, domain.ChannelSessions, Event{
		Type:      "session.opened",
		RequestID: id,
		Data:      out,
	})
	auditLog(ctx, s.audit, s.logger, "session_opened", map[string]any{
		"request_id":  id,
		"session":     out.Address.String(),
		"owner":       owner.String(),
		"seed":        seed,
		"entry_stake": entryStake,
		"seats":       seats,
	})
	s.logger.InfoContext(ctx, "session opened",
		slog.String("request_id", id),
		slog.String("session", out.Address.Short()),
		slog.Int("seats", int(seats)),
	)
	return out, nil
}

// Join seats participant in owner's session. The event stream reports a
// delegation separately from the join that caused it.
func (s *SessionService) Join(ctx context.Context, call Call, participant, owner domain.Address, seed uint64) (session.Session, error) {
	game, _, err := session.GameAddress(seed, owner)
	if err != nil {
		return session.Session{}, fmt.Errorf("session_service: join: %w", err)
	}
	var out session.Session
	id, err := s.run(ctx, call, "session:"+game.String(), func(c *ledger.Context) error {
		var err error
		out, err = s.program.JoinGame(c, participant, owner, seed)
		return err
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("session_service: join: %w", err)
	}

	s.events.Publish(ctx, domain.ChannelSessions, Event{
		Type:      "session.joined",
		RequestID: id,
		Data: map[string]any{
			"session":     out.Address,
			"participant": participant,
			"players":     len(out.State.Players),
			"seats":       out.State.NoPlayers,
		},
	})
	if out.State.Delegated {
		s.events.Publish(ctx, domain.ChannelSessions, Event{
			Type:      "session.delegated",
			RequestID: id,
			Data:      out,
		})
	}
	auditLog(ctx, s.audit, s.logger, "session_joined", map[string]any{
		"request_id":  id,
		"session":     out.Address.String(),
		"participant": participant.String(),
		"delegated":   out.State.Delegated,
	})
	s.logger.InfoContext(ctx, "session joined",
		slog.String("request_id", id),
		slog.String("session", out.Address.Short()),
		slog.Int("players", len(out.State.Players)),
		slog.Bool("delegated", out.State.Delegated),
	)
	return out, nil
}

// Session reads owner's session opened with seed.
func (s *SessionService) Session(ctx context.Context, owner domain.Address, seed uint64) (session.Session, error) {
	game, _, err := session.GameAddress(seed, owner)
	if err != nil {
		return session.Session{}, fmt.Errorf("session_service: session: %w", err)
	}
	var out session.Session
	err = s.exec.Processor().View(ctx, func(c *ledger.Context) error {
		state, err := session.GetGame(c, game)
		if err != nil {
			return err
		}
		out = session.Session{Address: game, Vault: state.GameVault, State: state}
		return nil
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("session_service: session %s: %w", game.Short(), err)
	}
	return out, nil
}

// Profile reads owner's profile.
func (s *SessionService) Profile(ctx context.Context, owner domain.Address) (domain.Profile, error) {
	var pr domain.Profile
	err := s.exec.Processor().View(ctx, func(c *ledger.Context) error {
		var err error
		pr, err = session.GetProfile(c, owner)
		return err
	})
	if err != nil {
		return domain.Profile{}, fmt.Errorf("session_service: profile %s: %w", owner.Short(), err)
	}
	return pr, nil
}

// Config reads the program config.
func (s *SessionService) Config(ctx context.Context) (domain.SessionConfig, error) {
	var cfg domain.SessionConfig
	err := s.exec.Processor().View(ctx, func(c *ledger.Context) error {
		var err error
		cfg, err = session.GetConfig(c)
		return err
	})
	if err != nil {
		return domain.SessionConfig{}, fmt.Errorf("session_service: config: %w", err)
	}
	return cfg, nil
}
