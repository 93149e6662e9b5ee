package pglogrepl

import (
	"time"

	"github.com/edgeflare/pgfan/pkg/cdc"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// decodeWAL turns one XLogData payload into zero or more CDC events. A record
// that cannot be interpreted yields a zero event, which the ingest runner
// counts and skips.
func decodeWAL(walData []byte, relations map[uint32]*pglogrepl.RelationMessageV2, typeMap *pgtype.Map, inStream *bool, serverAddr string) []cdc.Event {
	logicalMsg, err := pglogrepl.ParseV2(walData, *inStream)
	if err != nil {
		zap.L().Error("parse WAL message failed", zap.Error(err))
		return []cdc.Event{{}}
	}

	switch msg := logicalMsg.(type) {
	case *pglogrepl.RelationMessageV2:
		relations[msg.RelationID] = msg

	case *pglogrepl.InsertMessageV2:
		rel, ok := relations[msg.RelationID]
		if !ok {
			return unknownRelation(msg.RelationID)
		}
		return []cdc.Event{rowEvent(cdc.OpCreate, rel, serverAddr, int64(msg.Xid),
			nil, tupleValues(rel, msg.Tuple, typeMap))}

	case *pglogrepl.UpdateMessageV2:
		rel, ok := relations[msg.RelationID]
		if !ok {
			return unknownRelation(msg.RelationID)
		}
		return []cdc.Event{rowEvent(cdc.OpUpdate, rel, serverAddr, int64(msg.Xid),
			tupleValues(rel, msg.OldTuple, typeMap), tupleValues(rel, msg.NewTuple, typeMap))}

	case *pglogrepl.DeleteMessageV2:
		rel, ok := relations[msg.RelationID]
		if !ok {
			return unknownRelation(msg.RelationID)
		}
		return []cdc.Event{rowEvent(cdc.OpDelete, rel, serverAddr, int64(msg.Xid),
			tupleValues(rel, msg.OldTuple, typeMap), nil)}

	case *pglogrepl.TruncateMessageV2:
		var events []cdc.Event
		for _, relID := range msg.RelationIDs {
			rel, ok := relations[relID]
			if !ok {
				events = append(events, cdc.Event{})
				continue
			}
			events = append(events, rowEvent(cdc.OpTruncate, rel, serverAddr, int64(msg.Xid), nil, nil))
		}
		return events

	case *pglogrepl.StreamStartMessageV2:
		*inStream = true

	case *pglogrepl.StreamStopMessageV2:
		*inStream = false
	}

	return nil
}

func unknownRelation(relationID uint32) []cdc.Event {
	zap.L().Error("unknown relation ID", zap.Uint32("relationID", relationID))
	return []cdc.Event{{}}
}

func rowEvent(op cdc.Operation, rel *pglogrepl.RelationMessageV2, serverAddr string, xid int64, before, after map[string]interface{}) cdc.Event {
	now := time.Now().UnixMilli()

	source := cdc.NewSourceBuilder("postgresql", serverAddr).
		WithSchema(rel.Namespace).
		WithTable(rel.RelationName).
		WithTransaction(xid, 0).
		WithTimestamp(now).
		Build()

	b := cdc.NewEventBuilder().
		WithSource(source).
		WithOperation(op).
		WithTimestamp(now)
	if before != nil {
		b = b.WithBefore(before)
	}
	if after != nil {
		b = b.WithAfter(after)
	}
	return b.Build()
}

// tupleValues maps column names to decoded values; nil tuple yields nil.
func tupleValues(rel *pglogrepl.RelationMessageV2, tuple *pglogrepl.TupleData, typeMap *pgtype.Map) map[string]interface{} {
	if tuple == nil {
		return nil
	}

	values := make(map[string]interface{}, len(tuple.Columns))
	for idx, col := range tuple.Columns {
		colName := rel.Columns[idx].Name
		values[colName] = decodeColumn(col, typeMap, rel.Columns[idx].DataType)
	}
	return values
}

// decodeColumn decodes a single column from a PostgreSQL logical replication message.
func decodeColumn(col *pglogrepl.TupleDataColumn, typeMap *pgtype.Map, dataType uint32) interface{} {
	switch col.DataType {
	case 'n':
		return nil
	case 'u':
		return nil // unchanged toast
	case 't':
		val, err := decodeTextColumnData(typeMap, col.Data, dataType)
		if err != nil {
			zap.L().Error("error decoding column data", zap.Error(err))
			return nil
		}
		return val
	default:
		zap.L().Warn("unknown column data type", zap.Any("dataType", col.DataType))
		return nil
	}
}

// decodeTextColumnData decodes the binary data of a column into its corresponding Go type.
func decodeTextColumnData(mi *pgtype.Map, data []byte, dataType uint32) (interface{}, error) {
	if dt, ok := mi.TypeForOID(dataType); ok {
		return dt.Codec.DecodeValue(mi, dataType, pgtype.TextFormatCode, data)
	}
	return string(data), nil
}
