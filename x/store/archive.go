package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/compose-network/identity-relay/x/events"
)

var errDBUnavailable = errors.New("archive database unavailable")

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 500

// Filter narrows List. Zero values match everything.
type Filter struct {
	Kind  events.Kind
	Chain string
	Since uint64
	Limit int
}

// Archive persists the event trail to Postgres.
type Archive struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open connects to Postgres at dsn.
func Open(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return gdb, nil
}

func NewArchive(db *gorm.DB, log zerolog.Logger) *Archive {
	return &Archive{
		db:  db,
		log: log.With().Str("component", "event-archive").Logger(),
	}
}

func (a *Archive) AutoMigrate(ctx context.Context) error {
	if a.db == nil {
		return errDBUnavailable
	}
	return a.db.WithContext(ctx).AutoMigrate(&EventModel{})
}

// Record stores e. Re-recording the same event id is a no-op.
func (a *Archive) Record(ctx context.Context, e events.Event) error {
	if a.db == nil {
		return errDBUnavailable
	}
	model, err := eventModelFromDomain(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	if err := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

// List returns archived events ordered by sequence.
func (a *Archive) List(ctx context.Context, f Filter) ([]events.Event, error) {
	if a.db == nil {
		return nil, errDBUnavailable
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	q := a.db.WithContext(ctx).Model(&EventModel{})
	if f.Kind != "" {
		q = q.Where("kind = ?", string(f.Kind))
	}
	if f.Chain != "" {
		q = q.Where("chain = ?", f.Chain)
	}
	if f.Since > 0 {
		q = q.Where("seq > ?", f.Since)
	}

	var models []EventModel
	if err := q.Order("seq ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]events.Event, 0, len(models))
	for _, m := range models {
		e, err := eventFromModel(m)
		if err != nil {
			return nil, fmt.Errorf("decode event %s: %w", m.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Subscriber adapts the archive to a trail subscription.
func (a *Archive) Subscriber() events.SubscriberFn {
	return func(ctx context.Context, e events.Event) error {
		if err := a.Record(ctx, e); err != nil {
			a.log.Warn().Err(err).Str("kind", string(e.Kind)).Uint64("seq", e.Seq).Msg("Failed to archive event")
			return err
		}
		return nil
	}
}
