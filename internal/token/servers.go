package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hlxstats/ingressd/internal/models"
)

// ServerStore resolves and registers game servers. Identity is
// (authTokenId, gamePort); the address is rewritten in place on IP churn.
type ServerStore interface {
	Resolve(ctx context.Context, tok *models.ServerToken, gamePort int, sourceAddr string) (srv *models.Server, created bool, err error)
	FindByID(ctx context.Context, serverID int) (*models.Server, error)
}

// ServerRepository is the Postgres-backed server store.
type ServerRepository struct {
	db     DB
	logger *zap.SugaredLogger
}

func NewServerRepository(db DB, logger *zap.SugaredLogger) *ServerRepository {
	return &ServerRepository{db: db, logger: logger}
}

// Resolve finds the server for (token, gamePort), updating its address if
// the source moved, or auto-registers a new one. Registration creates the
// server row and copies the admin-provisioned config defaults in a single
// transaction.
func (r *ServerRepository) Resolve(ctx context.Context, tok *models.ServerToken, gamePort int, sourceAddr string) (*models.Server, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin server resolution: %w", err)
	}
	defer tx.Rollback(ctx)

	srv := &models.Server{
		Port:         gamePort,
		Game:         tok.Game,
		AuthTokenID:  tok.ID,
		RconPassword: tok.RconPassword,
	}

	err = tx.QueryRow(ctx, `
		SELECT server_id, name, address
		FROM servers
		WHERE auth_token_id = $1 AND port = $2
		FOR UPDATE
	`, tok.ID, gamePort).Scan(&srv.ServerID, &srv.Name, &srv.Address)

	switch {
	case err == nil:
		if srv.Address != sourceAddr {
			if _, err := tx.Exec(ctx,
				`UPDATE servers SET address = $1 WHERE server_id = $2`,
				sourceAddr, srv.ServerID); err != nil {
				return nil, false, fmt.Errorf("update server address: %w", err)
			}
			r.logger.Infow("Server address changed",
				"serverId", srv.ServerID, "old", srv.Address, "new", sourceAddr)
			srv.Address = sourceAddr
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit server resolution: %w", err)
		}
		return srv, false, nil

	case errors.Is(err, pgx.ErrNoRows):
		srv.Address = sourceAddr
		srv.Name = fmt.Sprintf("%s:%d", sourceAddr, gamePort)

		err = tx.QueryRow(ctx, `
			INSERT INTO servers (name, address, port, game, auth_token_id, rcon_password)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING server_id
		`, srv.Name, srv.Address, srv.Port, srv.Game, srv.AuthTokenID, srv.RconPassword).Scan(&srv.ServerID)
		if err != nil {
			return nil, false, fmt.Errorf("insert server: %w", err)
		}

		// New servers start from the admin-provisioned defaults. Copying
		// inside the registration transaction means a server either exists
		// fully configured or not at all.
		if _, err := tx.Exec(ctx, `
			INSERT INTO server_configs (server_id, parameter, value)
			SELECT $1, parameter, value FROM server_config_defaults
		`, srv.ServerID); err != nil {
			return nil, false, fmt.Errorf("copy config defaults: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit server registration: %w", err)
		}
		return srv, true, nil

	default:
		return nil, false, fmt.Errorf("server lookup: %w", err)
	}
}

func (r *ServerRepository) FindByID(ctx context.Context, serverID int) (*models.Server, error) {
	var srv models.Server
	err := r.db.QueryRow(ctx, `
		SELECT server_id, name, address, port, game, auth_token_id, rcon_password
		FROM servers WHERE server_id = $1
	`, serverID).Scan(&srv.ServerID, &srv.Name, &srv.Address, &srv.Port,
		&srv.Game, &srv.AuthTokenID, &srv.RconPassword)
	if err != nil {
		return nil, fmt.Errorf("server lookup by id: %w", err)
	}
	return &srv, nil
}
