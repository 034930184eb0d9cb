package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const startKey = "dayplan:start_time"

// QueryObserver receives the timing of every statement.
type QueryObserver interface {
	ObserveQuery(op, table string, d time.Duration, err error)
}

// Instrument registers before/after callbacks on every CRUD chain that
// report to obs.
func (s *Store) Instrument(obs QueryObserver) error {
	cb := s.db.Callback()

	if err := cb.Query().Before("gorm:query").Register("metrics:before_query", markStart); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("metrics:after_query", observe("query", obs)); err != nil {
		return err
	}

	if err := cb.Create().Before("gorm:create").Register("metrics:before_create", markStart); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("metrics:after_create", observe("create", obs)); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("metrics:before_update", markStart); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("metrics:after_update", observe("update", obs)); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("metrics:before_delete", markStart); err != nil {
		return err
	}
	return cb.Delete().After("gorm:delete").Register("metrics:after_delete", observe("delete", obs))
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startKey, time.Now())
}

func observe(op string, obs QueryObserver) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(startKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}
		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}
		err := db.Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = nil
		}
		obs.ObserveQuery(op, table, time.Since(start), err)
	}
}
