package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"holding-cdc-parse/logger"

	"github.com/gobwas/glob"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	outputPlugin          = "pgoutput"
	receiveTimeout        = 10 * time.Second
	duplicateObjectSQLErr = "42710"
)

var typeMap = pgtype.NewMap()

// EnvelopeHandler receives envelopes decoded from the replication stream in
// commit order. An error stops replication.
type EnvelopeHandler func(ctx context.Context, env Envelope) error

// Replicator reads pgoutput logical replication and turns row changes on
// matching relations into envelopes.
type Replicator struct {
	dsn             string
	publicationName string
	slotName        string
	filter          *RelationFilter
}

type ReplicatePosition struct {
	LastWriteLSN        pglogrepl.LSN
	LastReceivedLSN     pglogrepl.LSN
	UpdateStandbyStatus bool
	Relations           map[uint32]*pglogrepl.RelationMessageV2

	Pending    []Envelope
	CommitTime time.Time
	Xid        uint32
}

func NewReplicateDSN(database string, user string, password string, host string, port string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable replication=database", host, port, user, password, database)
}

func NewReplicator(dsn string, slotName string, publicationName string, filter *RelationFilter) *Replicator {
	return &Replicator{
		dsn:             dsn,
		publicationName: publicationName,
		slotName:        slotName,
		filter:          filter,
	}
}

// RelationFilter selects relations by schema and table glob patterns.
// Empty pattern lists match everything.
type RelationFilter struct {
	schemaGlobs []glob.Glob
	tableGlobs  []glob.Glob
}

func NewRelationFilter(schemaPatterns, tablePatterns []string) (*RelationFilter, error) {
	filter := &RelationFilter{
		schemaGlobs: make([]glob.Glob, 0, len(schemaPatterns)),
		tableGlobs:  make([]glob.Glob, 0, len(tablePatterns)),
	}
	for _, pattern := range schemaPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid schema pattern %q: %w", pattern, err)
		}
		filter.schemaGlobs = append(filter.schemaGlobs, g)
	}
	for _, pattern := range tablePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid table pattern %q: %w", pattern, err)
		}
		filter.tableGlobs = append(filter.tableGlobs, g)
	}
	return filter, nil
}

func (f *RelationFilter) Match(schema, table string) bool {
	if f == nil {
		return true
	}
	return matchAny(f.schemaGlobs, schema) && matchAny(f.tableGlobs, table)
}

func matchAny(globs []glob.Glob, s string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

func (r *Replicator) sendStandbyStatusUpdate(ctx context.Context, conn *pgconn.PgConn, lastWriteLSN pglogrepl.LSN, lastFlushLSN pglogrepl.LSN, lastApplyLSN pglogrepl.LSN) error {
	// https://www.postgresql.org/docs/current/protocol-replication.html
	err := pglogrepl.SendStandbyStatusUpdate(ctx, conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: lastWriteLSN + 1,
		WALFlushPosition: lastFlushLSN + 1,
		WALApplyPosition: lastApplyLSN + 1,
	})
	if err != nil {
		logger.ErrorWith(ctx, err).Uint64("lastWriteLSN", uint64(lastWriteLSN)).Uint64("lastFlushLSN", uint64(lastFlushLSN)).Uint64("lastApplyLSN", uint64(lastApplyLSN)).Msg("sendStandbyStatusUpdate error")
		return err
	}

	logger.Debug(ctx).Uint64("lastWriteLSN", uint64(lastWriteLSN)).Uint64("lastFlushLSN", uint64(lastFlushLSN)).Uint64("lastApplyLSN", uint64(lastApplyLSN)).Msg("sendStandbyStatusUpdate success")
	return nil
}

func (r *Replicator) checkPublicationExists(ctx context.Context, conn *pgconn.PgConn) (bool, error) {
	sql := fmt.Sprintf(`SELECT 1 FROM pg_publication WHERE pubname = '%s'`, r.publicationName)
	results, err := conn.Exec(ctx, sql).ReadAll()
	if err != nil {
		return false, err
	}
	return len(results) > 0 && len(results[0].Rows) > 0, nil
}

func (r *Replicator) createReplicationSlotIfNeed(ctx context.Context, conn *pgconn.PgConn) error {
	sql := fmt.Sprintf(`SELECT 1 FROM pg_replication_slots WHERE slot_name = '%s'`, r.slotName)
	results, err := conn.Exec(ctx, sql).ReadAll()
	if err != nil {
		return err
	}
	if len(results) > 0 && len(results[0].Rows) > 0 {
		return nil
	}

	_, err = pglogrepl.CreateReplicationSlot(ctx, conn, r.slotName, outputPlugin, pglogrepl.CreateReplicationSlotOptions{})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == duplicateObjectSQLErr {
		return nil
	}
	return err
}

// BeginReplication streams from the slot until ctx is cancelled, the server
// reports an error, or handle fails. Each transaction's envelopes are handed
// to handle at commit, and only then is the commit LSN acknowledged.
func (r *Replicator) BeginReplication(ctx context.Context, handle EnvelopeHandler) error {
	conn, err := pgconn.Connect(ctx, r.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := conn.Close(context.Background()); err != nil {
			logger.ErrorWith(ctx, err).Msg("BeginReplication close db error")
		}
	}()

	exists, err := r.checkPublicationExists(ctx, conn)
	if err != nil {
		return fmt.Errorf("check publication: %w", err)
	}
	if !exists {
		return fmt.Errorf("publication %q does not exist", r.publicationName)
	}

	if err := r.createReplicationSlotIfNeed(ctx, conn); err != nil {
		return fmt.Errorf("create replication slot: %w", err)
	}

	pluginArgs := []string{
		"proto_version '2'",
		"publication_names '" + r.publicationName + "'",
	}

	// LSN 0 resumes from the slot's confirmed flush position.
	err = pglogrepl.StartReplication(ctx, conn, r.slotName, 0, pglogrepl.StartReplicationOptions{
		PluginArgs: pluginArgs,
		Mode:       pglogrepl.LogicalReplication,
	})
	if err != nil {
		return fmt.Errorf("start replication: %w", err)
	}

	logger.Info(ctx).Str("slot", r.slotName).Str("publication", r.publicationName).Msg("begin replication")

	pos := &ReplicatePosition{
		Relations: map[uint32]*pglogrepl.RelationMessageV2{},
	}

	for {
		if err := ctx.Err(); err != nil {
			logger.Info(ctx).Msg("replication stopped")
			return nil
		}

		receiveCtx, cancel := context.WithTimeout(ctx, receiveTimeout)
		rawMsg, err := conn.ReceiveMessage(receiveCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				logger.Info(ctx).Msg("replication stopped")
				return nil
			}
			return fmt.Errorf("receive message: %w", err)
		}

		if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return fmt.Errorf("received Postgres WAL error: %+v", errMsg)
		}

		msg, ok := rawMsg.(*pgproto3.CopyData)
		if !ok {
			logger.Warn(ctx).Interface("msg", rawMsg).Msg("received unexpected message")
			continue
		}

		switch msg.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
			if err != nil {
				return fmt.Errorf("ParsePrimaryKeepaliveMessage failed: %w", err)
			}
			if pkm.ReplyRequested {
				pos.UpdateStandbyStatus = true
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
			if err != nil {
				return fmt.Errorf("ParseXLogData failed: %w", err)
			}

			commit, err := r.processMessage(ctx, xld, pos)
			if err != nil {
				return err
			}

			if commit {
				for _, env := range pos.Pending {
					if err := handle(ctx, env); err != nil {
						return err
					}
				}
				pos.Pending = nil
				pos.UpdateStandbyStatus = true
				logger.Debug(ctx).Uint64("LastWriteLSN", uint64(pos.LastWriteLSN)).Msg("commit local")
			}
		}

		if pos.UpdateStandbyStatus {
			if err := r.sendStandbyStatusUpdate(ctx, conn, pos.LastWriteLSN, pos.LastWriteLSN, pos.LastWriteLSN); err != nil {
				return fmt.Errorf("standby status update: %w", err)
			}
			pos.UpdateStandbyStatus = false
		}
	}
}

// processMessage applies one pgoutput message to pos and reports whether it
// committed a transaction.
func (r *Replicator) processMessage(ctx context.Context, xld pglogrepl.XLogData, pos *ReplicatePosition) (bool, error) {
	logicalMsg, err := pglogrepl.ParseV2(xld.WALData, false)
	if err != nil {
		return false, fmt.Errorf("processMessage ParseV2: %w", err)
	}

	pos.LastReceivedLSN = xld.ServerWALEnd
	switch logicalMsg := logicalMsg.(type) {
	case *pglogrepl.RelationMessageV2:
		pos.Relations[logicalMsg.RelationID] = logicalMsg

	case *pglogrepl.BeginMessage:
		pos.CommitTime = logicalMsg.CommitTime
		pos.Xid = logicalMsg.Xid
		pos.Pending = nil
		logger.Debug(ctx).Uint64("FinalLSN", uint64(logicalMsg.FinalLSN)).Msg("processMessage START TRANSACTION")

	case *pglogrepl.CommitMessage:
		if pos.LastWriteLSN < logicalMsg.CommitLSN {
			pos.LastWriteLSN = logicalMsg.CommitLSN
		}
		logger.Debug(ctx).Uint64("CommitLSN", uint64(logicalMsg.CommitLSN)).Uint64("TransactionEndLSN", uint64(logicalMsg.TransactionEndLSN)).Msg("processMessage COMMIT")
		return true, nil

	case *pglogrepl.InsertMessageV2:
		rel, ok := r.relation(pos, logicalMsg.RelationID)
		if !ok {
			return false, fmt.Errorf("insert action unknown relation id %d", logicalMsg.RelationID)
		}
		if rel == nil {
			return false, nil
		}
		after, err := getRowValues(logicalMsg.Tuple, rel)
		if err != nil {
			return false, err
		}
		pos.Pending = append(pos.Pending, Envelope{
			Op:    OpCreate,
			After: after,
			TsMs:  commitTsMs(pos.CommitTime),
		})

	case *pglogrepl.UpdateMessageV2:
		rel, ok := r.relation(pos, logicalMsg.RelationID)
		if !ok {
			return false, fmt.Errorf("update action unknown relation id %d", logicalMsg.RelationID)
		}
		if rel == nil {
			return false, nil
		}
		before, err := getRowValues(logicalMsg.OldTuple, rel)
		if err != nil {
			return false, err
		}
		after, err := getRowValues(logicalMsg.NewTuple, rel)
		if err != nil {
			return false, err
		}
		pos.Pending = append(pos.Pending, Envelope{
			Op:     OpUpdate,
			Before: before,
			After:  after,
			TsMs:   commitTsMs(pos.CommitTime),
		})

	case *pglogrepl.DeleteMessageV2:
		rel, ok := r.relation(pos, logicalMsg.RelationID)
		if !ok {
			return false, fmt.Errorf("delete action unknown relation id %d", logicalMsg.RelationID)
		}
		if rel == nil {
			return false, nil
		}
		before, err := getRowValues(logicalMsg.OldTuple, rel)
		if err != nil {
			return false, err
		}
		pos.Pending = append(pos.Pending, Envelope{
			Op:     OpDelete,
			Before: before,
			TsMs:   commitTsMs(pos.CommitTime),
		})

	case *pglogrepl.TruncateMessageV2:
		logger.Info(ctx).Uint32("xid", logicalMsg.Xid).Msg("truncate message ignored")

	default:
		logger.Debug(ctx).Interface("logicalMsg", logicalMsg).Msg("ignored message type")
	}

	return false, nil
}

// relation looks up a known relation. A known relation rejected by the
// filter is returned as nil with ok set.
func (r *Replicator) relation(pos *ReplicatePosition, id uint32) (*pglogrepl.RelationMessageV2, bool) {
	rel, ok := pos.Relations[id]
	if !ok {
		return nil, false
	}
	if !r.filter.Match(rel.Namespace, rel.RelationName) {
		return nil, true
	}
	return rel, true
}

func commitTsMs(t time.Time) Value {
	if t.IsZero() {
		return nil
	}
	return Value(fmt.Sprintf("%d", t.UnixMilli()))
}

func decodeTextColumnData(data []byte, dataType uint32) (interface{}, error) {
	if dt, ok := typeMap.TypeForOID(dataType); ok {
		return dt.Codec.DecodeValue(typeMap, dataType, pgtype.TextFormatCode, data)
	}
	return string(data), nil
}

// getRowValues converts a tuple into a Row of JSON values. A nil tuple (no
// old row sent for the replica identity) yields an empty Row. Unchanged
// TOAST columns are left out.
func getRowValues(tuple *pglogrepl.TupleData, rel *pglogrepl.RelationMessageV2) (Row, error) {
	values := Row{}
	if tuple == nil {
		return values, nil
	}
	for idx, col := range tuple.Columns {
		if idx >= len(rel.Columns) {
			return nil, fmt.Errorf("tuple has %d columns, relation %s.%s has %d", len(tuple.Columns), rel.Namespace, rel.RelationName, len(rel.Columns))
		}
		colName := rel.Columns[idx].Name
		switch col.DataType {
		case pglogrepl.TupleDataTypeNull:
			values[colName] = Value("null")
		case pglogrepl.TupleDataTypeToast:
		case pglogrepl.TupleDataTypeText:
			val, err := decodeTextColumnData(col.Data, rel.Columns[idx].DataType)
			if err != nil {
				return nil, fmt.Errorf("error decoding column %s: %w", colName, err)
			}
			encoded, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("error encoding column %s: %w", colName, err)
			}
			values[colName] = encoded
		}
	}
	return values, nil
}
