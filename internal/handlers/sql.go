package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"transcode-worker/internal/protocol"
)

// SQLHandler executes sql_query jobs, caching connection pools by
// connection string in a mutex-guarded map with double-checked insertion
// so two racing tasks never open two pools for the same database.
type SQLHandler struct {
	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

// NewSQLHandler builds an empty pool cache.
func NewSQLHandler() *SQLHandler {
	return &SQLHandler{pools: make(map[string]*pgxpool.Pool)}
}

func (h *SQLHandler) poolFor(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	h.mu.Lock()
	if pool, ok := h.pools[connString]; ok {
		h.mu.Unlock()
		return pool, nil
	}
	h.mu.Unlock()

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 5

	newPool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if pool, ok := h.pools[connString]; ok {
		newPool.Close()
		return pool, nil
	}
	h.pools[connString] = newPool
	return newPool, nil
}

type sqlQueryPayload struct {
	ConnectionString string `json:"connection_string"`
	Query            string `json:"query"`
	Args             []any  `json:"args"`
}

// SQLQuery implements the sql_query job type.
func (h *SQLHandler) SQLQuery(ctx context.Context, job protocol.Job) Outcome {
	var p sqlQueryPayload
	if len(job.Payload) > 0 {
		_ = json.Unmarshal(job.Payload, &p)
	}
	if p.ConnectionString == "" {
		return Failure("DB_CONNECTION_ERROR", "Missing 'connection_string' in payload")
	}
	if p.Query == "" {
		return Failure("DB_QUERY_ERROR", "Missing 'query' in payload")
	}

	pool, err := h.poolFor(ctx, p.ConnectionString)
	if err != nil {
		return Failure("DB_CONNECTION_ERROR", err.Error())
	}

	rows, err := pool.Query(ctx, p.Query, p.Args...)
	if err != nil {
		return Failure("DB_QUERY_ERROR", err.Error())
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var outRows []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return Failure("DB_QUERY_ERROR", err.Error())
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = vals[i]
		}
		outRows = append(outRows, row)
	}
	if err := rows.Err(); err != nil {
		return Failure("DB_QUERY_ERROR", err.Error())
	}

	return Success(map[string]any{
		"rows":          outRows,
		"rows_affected": rows.CommandTag().RowsAffected(),
	})
}

// Close releases every cached pool; called during supervisor shutdown.
func (h *SQLHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, pool := range h.pools {
		pool.Close()
	}
}
