// Package cdc defines the change data capture event model shared by sources,
// the append log, and subscriber transports. The shape follows the Debezium
// payload envelope so events arriving from external feeds (eg a NATS subject
// populated by another CDC tool) decode without translation.
package cdc

// Operation represents the type of change that occurred
type Operation string

const (
	OpCreate   Operation = "c"
	OpUpdate   Operation = "u"
	OpDelete   Operation = "d"
	OpRead     Operation = "r"
	OpTruncate Operation = "t"
)

// Source contains metadata about where a change originated
type Source struct {
	Connector string `json:"connector"`
	Name      string `json:"name"`
	TsMs      int64  `json:"ts_ms"`
	Db        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	TxID      int64  `json:"txId"`
	Lsn       int64  `json:"lsn"`
}

// Payload represents the actual change data
type Payload struct {
	Before interface{} `json:"before"`
	After  interface{} `json:"after"`
	Source Source      `json:"source"`
	Op     Operation   `json:"op"`
	TsMs   int64       `json:"ts_ms"`
}

// Event represents a complete change data capture event
type Event struct {
	Payload Payload `json:"payload"`
}

// IsZero reports whether the event carries no change. Decode paths return a
// zero Event for records they could not interpret; ingestion skips these.
func (e Event) IsZero() bool {
	return e.Payload.Op == ""
}

// SourceBuilder helps construct Source objects with reasonable defaults
type SourceBuilder struct {
	source Source
}

func NewSourceBuilder(connector, name string) *SourceBuilder {
	return &SourceBuilder{
		source: Source{
			Connector: connector,
			Name:      name,
		},
	}
}

func (b *SourceBuilder) WithSchema(schema string) *SourceBuilder {
	b.source.Schema = schema
	return b
}

func (b *SourceBuilder) WithTable(table string) *SourceBuilder {
	b.source.Table = table
	return b
}

func (b *SourceBuilder) WithDatabase(db string) *SourceBuilder {
	b.source.Db = db
	return b
}

func (b *SourceBuilder) WithTimestamp(ts int64) *SourceBuilder {
	b.source.TsMs = ts
	return b
}

func (b *SourceBuilder) WithTransaction(txID int64, lsn int64) *SourceBuilder {
	b.source.TxID = txID
	b.source.Lsn = lsn
	return b
}

func (b *SourceBuilder) Build() Source {
	return b.source
}

// EventBuilder helps construct complete CDC events
type EventBuilder struct {
	event Event
}

func NewEventBuilder() *EventBuilder {
	return &EventBuilder{}
}

func (b *EventBuilder) WithSource(source Source) *EventBuilder {
	b.event.Payload.Source = source
	return b
}

func (b *EventBuilder) WithOperation(op Operation) *EventBuilder {
	b.event.Payload.Op = op
	return b
}

func (b *EventBuilder) WithBefore(before interface{}) *EventBuilder {
	b.event.Payload.Before = before
	return b
}

func (b *EventBuilder) WithAfter(after interface{}) *EventBuilder {
	b.event.Payload.After = after
	return b
}

func (b *EventBuilder) WithTimestamp(ts int64) *EventBuilder {
	b.event.Payload.TsMs = ts
	return b
}

func (b *EventBuilder) Build() Event {
	return b.event
}
